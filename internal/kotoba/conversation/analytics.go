package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/archive"
)

// Analytics is a read-only report on a live or archived session.
type Analytics struct {
	SessionID             string         `json:"session_id"`
	DurationMinutes       float64        `json:"duration_minutes"`
	TurnCount             int            `json:"turn_count"`
	AverageProcessingTime float64        `json:"average_processing_time"`
	IntentDistribution    map[string]int `json:"intent_distribution"`
	EntityTypesUsed       []string       `json:"entity_types_used"`
	CurrentState          Status         `json:"current_state"`
	TopicsCovered         []string       `json:"topics_covered"`
}

// Analytics computes the report for sessionID. Live sessions are measured
// up to now; ended sessions are read from the archive when one is
// configured.
func (m *Manager) Analytics(ctx context.Context, sessionID string) (*Analytics, error) {
	var out *Analytics
	err := m.withSession(ctx, sessionID, func(s *Session) error {
		sum := summarize(s, m.cfg.Now(), "")
		out = fromSummary(sum, s.Context.Status)
		return nil
	})
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrSessionNotFound) || m.archive == nil {
		return nil, err
	}

	sum, aerr := m.archive.Get(ctx, sessionID)
	if errors.Is(aerr, archive.ErrNotFound) {
		return nil, err
	}
	if aerr != nil {
		return nil, fmt.Errorf("conversation: analytics for %s: %w", sessionID, aerr)
	}
	return fromSummary(*sum, StatusCompleted), nil
}

func fromSummary(s archive.Summary, state Status) *Analytics {
	intents := s.IntentDistribution
	if intents == nil {
		intents = map[string]int{}
	}
	entityTypes := s.EntitiesMentioned
	if entityTypes == nil {
		entityTypes = []string{}
	}
	topics := s.TopicsDiscussed
	if topics == nil {
		topics = []string{}
	}
	return &Analytics{
		SessionID:             s.SessionID,
		DurationMinutes:       (time.Duration(s.DurationSeconds * float64(time.Second))).Minutes(),
		TurnCount:             s.TurnCount,
		AverageProcessingTime: s.AverageProcessingTime,
		IntentDistribution:    intents,
		EntityTypesUsed:       entityTypes,
		CurrentState:          state,
		TopicsCovered:         topics,
	}
}
