package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionArchive is one row of the session_archive table.
type SessionArchive struct {
	SessionID             string
	UserID                string
	StartedAt             time.Time
	EndedAt               time.Time
	DurationSeconds       float64
	TurnCount             int
	Reason                string
	AverageProcessingTime float64
	Topics                []string
	EntityTypes           []string
	Intents               map[string]int
}

// SaveSessionArchive inserts or replaces the archive row for a session.
// Replacing keeps a retried write idempotent.
func (s *Store) SaveSessionArchive(ctx context.Context, a *SessionArchive) error {
	topics, err := json.Marshal(nonNilStrings(a.Topics))
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	entityTypes, err := json.Marshal(nonNilStrings(a.EntityTypes))
	if err != nil {
		return fmt.Errorf("failed to marshal entity types: %w", err)
	}
	intents := a.Intents
	if intents == nil {
		intents = map[string]int{}
	}
	intentsJSON, err := json.Marshal(intents)
	if err != nil {
		return fmt.Errorf("failed to marshal intents: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO session_archive (
			session_id, user_id, started_at, ended_at, duration_seconds, turn_count,
			reason, average_processing_time, topics_json, entity_types_json, intents_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.SessionID, a.UserID, a.StartedAt.UTC(), a.EndedAt.UTC(), a.DurationSeconds, a.TurnCount,
		a.Reason, a.AverageProcessingTime, string(topics), string(entityTypes), string(intentsJSON))
	if err != nil {
		return fmt.Errorf("failed to save session archive %s: %w", a.SessionID, err)
	}
	return nil
}

const sessionArchiveColumns = `session_id, user_id, started_at, ended_at, duration_seconds, turn_count,
	reason, average_processing_time, topics_json, entity_types_json, intents_json`

// GetSessionArchive returns the archive row for sessionID or ErrNotFound.
func (s *Store) GetSessionArchive(ctx context.Context, sessionID string) (*SessionArchive, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionArchiveColumns+` FROM session_archive WHERE session_id = ?`, sessionID)
	a, err := scanSessionArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session archive %s: %w", sessionID, err)
	}
	return a, nil
}

// ListSessionArchives returns archive rows newest first. An empty userID
// lists every user.
func (s *Store) ListSessionArchives(ctx context.Context, userID string, limit int) ([]*SessionArchive, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionArchiveColumns + ` FROM session_archive`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY ended_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session archive: %w", err)
	}
	defer rows.Close()

	var out []*SessionArchive
	for rows.Next() {
		a, err := scanSessionArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session archive: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session archive: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionArchive(r rowScanner) (*SessionArchive, error) {
	var (
		a                            SessionArchive
		topics, entityTypes, intents string
	)
	if err := r.Scan(
		&a.SessionID, &a.UserID, &a.StartedAt, &a.EndedAt, &a.DurationSeconds, &a.TurnCount,
		&a.Reason, &a.AverageProcessingTime, &topics, &entityTypes, &intents,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topics), &a.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal([]byte(entityTypes), &a.EntityTypes); err != nil {
		return nil, fmt.Errorf("decode entity types: %w", err)
	}
	if err := json.Unmarshal([]byte(intents), &a.Intents); err != nil {
		return nil, fmt.Errorf("decode intents: %w", err)
	}
	return &a, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
