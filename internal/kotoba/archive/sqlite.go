package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdobrica/kotoba/internal/kotoba/store"
)

// SQLite persists summaries in the session_archive table.
type SQLite struct {
	db *store.Store
}

var (
	_ Sink   = (*SQLite)(nil)
	_ Reader = (*SQLite)(nil)
)

// NewSQLite returns a sink and reader over db.
func NewSQLite(db *store.Store) *SQLite {
	return &SQLite{db: db}
}

// Archive writes s. Writing the same session twice replaces the row.
func (a *SQLite) Archive(ctx context.Context, s Summary) error {
	err := a.db.SaveSessionArchive(ctx, &store.SessionArchive{
		SessionID:             s.SessionID,
		UserID:                s.UserID,
		StartedAt:             s.StartedAt,
		EndedAt:               s.EndedAt,
		DurationSeconds:       s.DurationSeconds,
		TurnCount:             s.TurnCount,
		Reason:                s.Reason,
		AverageProcessingTime: s.AverageProcessingTime,
		Topics:                s.TopicsDiscussed,
		EntityTypes:           s.EntitiesMentioned,
		Intents:               s.IntentDistribution,
	})
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

// Get returns the summary for sessionID, or ErrNotFound.
func (a *SQLite) Get(ctx context.Context, sessionID string) (*Summary, error) {
	row, err := a.db.GetSessionArchive(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	s := fromRow(row)
	return &s, nil
}

// List returns summaries newest first, optionally filtered by user.
func (a *SQLite) List(ctx context.Context, userID string, limit int) ([]Summary, error) {
	rows, err := a.db.ListSessionArchives(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func fromRow(r *store.SessionArchive) Summary {
	return Summary{
		SessionID:             r.SessionID,
		UserID:                r.UserID,
		DurationSeconds:       r.DurationSeconds,
		TurnCount:             r.TurnCount,
		TopicsDiscussed:       r.Topics,
		EntitiesMentioned:     r.EntityTypes,
		StartedAt:             r.StartedAt,
		EndedAt:               r.EndedAt,
		Reason:                r.Reason,
		IntentDistribution:    r.Intents,
		AverageProcessingTime: r.AverageProcessingTime,
	}
}
