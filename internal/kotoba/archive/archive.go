// Package archive receives the summary of every ended session. Summaries are
// the durable audit trail of a conversation: the live session is discarded
// once its summary has been handed to a Sink.
package archive

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Reader.Get for an unknown session.
var ErrNotFound = errors.New("archive: session not found")

// Reasons a session was archived.
const (
	ReasonEnded    = "ended"
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
)

// Summary describes an ended session. The first six fields are the public
// summary contract; the rest let analytics answer for archived sessions.
type Summary struct {
	SessionID         string   `json:"session_id"`
	UserID            string   `json:"user_id"`
	DurationSeconds   float64  `json:"duration_seconds"`
	TurnCount         int      `json:"turn_count"`
	TopicsDiscussed   []string `json:"topics_discussed"`
	EntitiesMentioned []string `json:"entities_mentioned"`

	StartedAt             time.Time      `json:"started_at"`
	EndedAt               time.Time      `json:"ended_at"`
	Reason                string         `json:"reason"`
	IntentDistribution    map[string]int `json:"intent_distribution,omitempty"`
	AverageProcessingTime float64        `json:"average_processing_time"`
}

// Sink receives session summaries.
type Sink interface {
	Archive(ctx context.Context, s Summary) error
}

// Reader reads archived summaries back.
type Reader interface {
	Get(ctx context.Context, sessionID string) (*Summary, error)
	List(ctx context.Context, userID string, limit int) ([]Summary, error)
}

// NoopSink discards summaries.
type NoopSink struct{}

// Archive does nothing.
func (NoopSink) Archive(context.Context, Summary) error { return nil }

// Multi fans a summary out to every sink in order. All sinks are called even
// when one fails; the errors are joined.
type Multi []Sink

// Archive implements Sink.
func (m Multi) Archive(ctx context.Context, s Summary) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Archive(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = NoopSink{}
	_ Sink = Multi(nil)
)
