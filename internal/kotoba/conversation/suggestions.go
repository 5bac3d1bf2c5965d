package conversation

import (
	"context"
	"sort"

	"github.com/bdobrica/kotoba/internal/kotoba/intent"
	"github.com/bdobrica/kotoba/internal/kotoba/topics"
)

// Suggestion is a follow-up offered to the user.
type Suggestion = topics.Suggestion

// Suggestions returns up to MaxSuggestions follow-ups for the session given
// the current intent (the session's last intent when nil). It never fails:
// unknown sessions and internal errors yield an empty list.
func (m *Manager) Suggestions(ctx context.Context, sessionID string, current *intent.ParsedIntent) []Suggestion {
	var (
		topic    string
		entities EntityContext
	)
	err := m.withSession(ctx, sessionID, func(s *Session) error {
		topic = s.Context.CurrentTopic
		entities = s.Context.Entities.clone()
		if current == nil {
			current = s.Context.LastIntent.Clone()
		}
		return nil
	})
	if err != nil {
		m.logger.Debug("suggestions unavailable", "session_id", sessionID, "err", err)
		return []Suggestion{}
	}

	out := make([]Suggestion, 0, MaxSuggestions)

	// --- 1. Topic templates, only when there is relevant history ---
	var history []*Turn
	if current != nil {
		history = m.memory.GetRelevantHistory(sessionID, current, HistoryLimit)
	}
	if len(history) > 0 && topic != "" {
		out = append(out, m.topics.TopicSuggestions(topic)...)
	}

	// --- 2. Entity-driven ---
	entitySuggestions, err := m.topics.EntitySuggestions(entities)
	if err != nil {
		m.logger.Warn("entity suggestions failed", "session_id", sessionID, "err", err)
	}
	out = append(out, entitySuggestions...)

	// --- 3. Intent patterns over the relevant history ---
	if current != nil && len(history) > 1 {
		out = append(out, m.topics.PatternSuggestions(intentSequence(history), current.Type)...)
	}

	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

// intentSequence returns the intent types of turns in chronological order.
func intentSequence(turns []*Turn) []string {
	ordered := append([]*Turn(nil), turns...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	seq := make([]string, 0, len(ordered))
	for _, t := range ordered {
		seq = append(seq, t.IntentType())
	}
	return seq
}
