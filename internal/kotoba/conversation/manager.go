// Package conversation manages conversation sessions: their lifecycle, the
// context accumulated across turns, turn recording, suggestions and
// analytics.
//
// A Manager owns the active-session table. Callers must serialize requests
// for the same session ID (one turn in flight per session); operations on
// different sessions may run concurrently.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/kotoba/internal/kotoba/archive"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
	"github.com/bdobrica/kotoba/internal/kotoba/topics"
)

// ErrSessionNotFound is returned when a session does not exist or has just
// expired.
var ErrSessionNotFound = errors.New("conversation: session not found")

const (
	DefaultSessionTimeout = 2 * time.Hour
	DefaultWaitingBelow   = 0.5
	DefaultActiveAt       = 0.7
	// DefaultArchiveTimeout bounds one hand-off of a summary to the sink.
	DefaultArchiveTimeout = 30 * time.Second
	// MaxSuggestions caps the combined suggestion list.
	MaxSuggestions = 5
	// HistoryLimit is the relevant-history size used for suggestions.
	HistoryLimit = 5
)

// Config holds Manager settings.
type Config struct {
	// SessionTimeout is the idle time after which a session expires.
	// Default: 2h.
	SessionTimeout time.Duration

	// WaitingBelow: confidence strictly below this sets status waiting.
	// Default: 0.5.
	WaitingBelow float64

	// ActiveAt: confidence at or above this sets status active. Values in
	// between leave the status unchanged. Default: 0.7.
	ActiveAt float64

	// ArchiveTimeout bounds the sink call made when a session ends. The
	// call does not inherit the caller's cancellation: by then the session
	// is already out of the table and its summary is the only record left.
	// Default: 30s.
	ArchiveTimeout time.Duration

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Deps are the collaborators a Manager uses. Zero fields get defaults: the
// built-in topic table, a fresh memory store and a no-op sink.
type Deps struct {
	Topics *topics.Table
	Memory *memory.Store
	Sink   archive.Sink
	// Archive, when set, lets Analytics answer for ended sessions.
	Archive archive.Reader
}

// Manager owns the active-session table and every transition a session goes
// through. It is safe for concurrent use.
//
// Lifecycle of a session:
//
//  1. Create registers it as active with an empty context.
//  2. MaintainContext and AddTurn update it; each call refreshes
//     LastActivity.
//  3. It leaves the table through End, through expiry (detected lazily on
//     lookup or by CleanupExpired), or through Shutdown.
//  4. On leaving, the session is detached under the lock and its summary is
//     handed to the Sink outside it. Memory for the session is released at
//     the same time.
//
// A session never returns to the table once detached, so each session
// produces exactly one summary.
type Manager struct {
	// cfg is immutable after NewManager.
	cfg     Config
	topics  *topics.Table
	memory  *memory.Store
	sink    archive.Sink
	archive archive.Reader
	logger  *slog.Logger

	// mu guards sessions and every Session reachable from it. It is never
	// held while the sink runs.
	mu       sync.Mutex
	sessions map[string]*Session // key: session ID
}

// NewManager creates a Manager with an empty session table.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.WaitingBelow <= 0 {
		cfg.WaitingBelow = DefaultWaitingBelow
	}
	if cfg.ActiveAt <= 0 {
		cfg.ActiveAt = DefaultActiveAt
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = DefaultArchiveTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if deps.Topics == nil {
		deps.Topics = topics.MustDefault()
	}
	if deps.Memory == nil {
		deps.Memory = memory.New(memory.Config{Now: cfg.Now})
	}
	if deps.Sink == nil {
		deps.Sink = archive.NoopSink{}
	}
	return &Manager{
		cfg:      cfg,
		topics:   deps.Topics,
		memory:   deps.Memory,
		sink:     deps.Sink,
		archive:  deps.Archive,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Memory returns the conversation memory backing this manager.
func (m *Manager) Memory() *memory.Store { return m.memory }

// Create starts a new active session for userID.
func (m *Manager) Create(userID string, metadata map[string]any) *Session {
	now := m.cfg.Now()
	id := uuid.New().String()
	s := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
		Context:      newContext(id, userID),
		Metadata:     metadata,
	}

	m.mu.Lock()
	m.sessions[id] = s
	out := s.snapshot()
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", id, "user_id", userID)
	return out
}

// Get returns a snapshot of the session. An expired session is ended and
// reported as ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	var out *Session
	err := m.withSession(ctx, sessionID, func(s *Session) error {
		out = s.snapshot()
		return nil
	})
	return out, err
}

// withSession runs fn on the live session under the manager lock, applying
// lazy expiry first.
func (m *Manager) withSession(ctx context.Context, sessionID string, fn func(s *Session) error) error {
	now := m.cfg.Now()
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if m.expired(s, now) {
		m.mu.Unlock()
		m.EndIfExpired(ctx, sessionID)
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	defer m.mu.Unlock()
	return fn(s)
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActivity) > m.cfg.SessionTimeout
}

// MaintainContext applies an incoming message to the session context: topic
// inference, entity merge, status transition and the last-intent snapshot.
// It does not change the turn count; AddTurn does.
func (m *Manager) MaintainContext(ctx context.Context, sessionID, message string, parsed *intent.ParsedIntent) (*Context, error) {
	if parsed == nil {
		return nil, fmt.Errorf("%w: nil intent", intent.ErrMalformedIntent)
	}
	var out *Context
	err := m.withSession(ctx, sessionID, func(s *Session) error {
		s.LastActivity = m.cfg.Now()
		c := s.Context

		if topic, ok := m.topics.Topic(parsed.Type); ok && topic != c.CurrentTopic {
			c.addTopic(topic)
		}

		parsed.Entities.Each(func(typ, value string) {
			c.Entities.Merge(typ, value)
		})

		switch {
		case m.topics.IsWaiting(parsed.Type) || parsed.Confidence < m.cfg.WaitingBelow:
			c.Status = StatusWaiting
		case parsed.Confidence >= m.cfg.ActiveAt:
			c.Status = StatusActive
		}

		c.LastIntent = parsed.Clone()
		c.Data[DataLastMessage] = message
		c.Data[DataLastIntentType] = parsed.Type
		c.Data[DataLastConfidence] = parsed.Confidence
		c.Data[DataTurnCount] = c.TurnCount

		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug("context maintained",
		"session_id", sessionID,
		"intent", parsed.Type,
		"topic", out.CurrentTopic,
		"status", out.Status,
	)
	return out, nil
}

// TurnInput is everything AddTurn records besides the generated ID and
// timestamp.
type TurnInput struct {
	UserMessage    string
	Intent         *intent.ParsedIntent
	SystemActions  []string
	Response       string
	ProcessingTime time.Duration
}

// AddTurn records a completed exchange in the session history and in
// conversation memory, and bumps the turn count.
func (m *Manager) AddTurn(ctx context.Context, sessionID string, in TurnInput) (*Turn, error) {
	var turn *Turn
	err := m.withSession(ctx, sessionID, func(s *Session) error {
		now := m.cfg.Now()
		turn = &Turn{
			ID:             uuid.New().String(),
			UserMessage:    in.UserMessage,
			Intent:         in.Intent.Clone(),
			SystemActions:  append([]string(nil), in.SystemActions...),
			Response:       in.Response,
			Timestamp:      now,
			ProcessingTime: in.ProcessingTime,
		}
		s.Turns = append(s.Turns, turn)
		s.Context.TurnCount = len(s.Turns)
		s.LastActivity = now

		if evicted := m.memory.StoreTurn(sessionID, turn); len(evicted) > 0 {
			m.logger.Debug("memory evicted turns", "session_id", sessionID, "count", len(evicted))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// End completes and archives the session. It reports false when the session
// was not active. An archival error is returned alongside true: the session
// is ended either way.
func (m *Manager) End(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	sum := m.detachLocked(s, archive.ReasonEnded)
	m.mu.Unlock()

	return true, m.finish(ctx, sum)
}

// EndIfExpired ends the session if it has been idle beyond the timeout and
// reports whether it did.
//
// It is the single expiry primitive: lookups call it when they see a stale
// session and CleanupExpired calls it for every ID in the table. The check
// and the removal happen under one lock acquisition, so when several
// callers race on the same session only the first one archives it; the
// rest find it gone and return false.
//
// Archival failures are logged, not returned. The session is ended either
// way.
func (m *Manager) EndIfExpired(ctx context.Context, sessionID string) bool {
	now := m.cfg.Now()
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || !m.expired(s, now) {
		m.mu.Unlock()
		return false
	}
	sum := m.detachLocked(s, archive.ReasonExpired)
	m.mu.Unlock()

	if err := m.finish(ctx, sum); err != nil {
		m.logger.Error("archive expired session failed", "session_id", sessionID, "err", err)
	}
	return true
}

// CleanupExpired ends every expired session and returns how many were
// ended. Failures are logged.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if m.EndIfExpired(ctx, id) {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("expired sessions cleaned up", "count", n)
	}
	return n
}

// Shutdown ends and archives every active session.
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	sums := make([]archive.Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		sums = append(sums, m.detachLocked(s, archive.ReasonShutdown))
	}
	m.mu.Unlock()

	for _, sum := range sums {
		if err := m.finish(ctx, sum); err != nil {
			m.logger.Error("archive session on shutdown failed", "session_id", sum.SessionID, "err", err)
		}
	}
	m.logger.Info("session manager shut down", "archived", len(sums))
	return len(sums)
}

// Active returns the number of sessions in the table.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// detachLocked marks s completed, removes it from the table and returns its
// summary. Must be called with mu held.
func (m *Manager) detachLocked(s *Session, reason string) archive.Summary {
	now := m.cfg.Now()
	s.Status = StatusCompleted
	s.Context.Status = StatusCompleted
	delete(m.sessions, s.ID)
	return summarize(s, now, reason)
}

// finish releases memory and hands the summary to the sink. Runs without
// the lock held. The sink runs on a context detached from ctx's
// cancellation (values such as the trace ID are kept) and bounded by
// ArchiveTimeout, so an aborted request cannot drop a summary whose
// session has already left the table.
func (m *Manager) finish(ctx context.Context, sum archive.Summary) error {
	m.memory.Release(sum.SessionID)
	m.logger.Info("session ended",
		"session_id", sum.SessionID,
		"user_id", sum.UserID,
		"reason", sum.Reason,
		"turns", sum.TurnCount,
		"duration", time.Duration(sum.DurationSeconds*float64(time.Second)).String(),
	)
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ArchiveTimeout)
	defer cancel()
	if err := m.sink.Archive(actx, sum); err != nil {
		return fmt.Errorf("conversation: archive session %s: %w", sum.SessionID, err)
	}
	return nil
}

func summarize(s *Session, end time.Time, reason string) archive.Summary {
	intents := make(map[string]int)
	var total time.Duration
	for _, t := range s.Turns {
		if it := t.IntentType(); it != "" {
			intents[it]++
		}
		total += t.ProcessingTime
	}
	avg := 0.0
	if len(s.Turns) > 0 {
		avg = total.Seconds() / float64(len(s.Turns))
	}
	return archive.Summary{
		SessionID:             s.ID,
		UserID:                s.UserID,
		DurationSeconds:       end.Sub(s.CreatedAt).Seconds(),
		TurnCount:             len(s.Turns),
		TopicsDiscussed:       append([]string{}, s.Context.Topics...),
		EntitiesMentioned:     s.Context.Entities.Types(),
		StartedAt:             s.CreatedAt,
		EndedAt:               end,
		Reason:                reason,
		IntentDistribution:    intents,
		AverageProcessingTime: avg,
	}
}

// List returns snapshots of the live sessions for userID (all users when
// empty), oldest first. Expired sessions are skipped but not ended here.
func (m *Manager) List(userID string) []*Session {
	now := m.cfg.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		if m.expired(s, now) {
			continue
		}
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
