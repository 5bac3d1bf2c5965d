// Package memory holds the two-tier conversation memory: a bounded
// short-term buffer of recent turns per session and an unbounded long-term
// aggregate of intent and entity frequencies.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/intent"
	"github.com/bdobrica/kotoba/internal/kotoba/relevance"
)

const (
	// DefaultMaxTurns caps the short-term buffer per session.
	DefaultMaxTurns = 1000
	// DefaultScanFactor bounds history retrieval to ScanFactor*limit of the
	// most recent turns.
	DefaultScanFactor = 2
	// DefaultThreshold is the minimum relevance score a turn must exceed to
	// be returned from GetRelevantHistory.
	DefaultThreshold = 0.3
	// DefaultLimit is used when GetRelevantHistory is called with limit <= 0.
	DefaultLimit = 5
)

// Turn is one processed user message. Turns are immutable once stored; the
// session and the short-term buffer share the same pointer.
type Turn struct {
	ID             string               `json:"id"`
	UserMessage    string               `json:"user_message"`
	Intent         *intent.ParsedIntent `json:"parsed_intent"`
	SystemActions  []string             `json:"system_actions"`
	Response       string               `json:"response"`
	Timestamp      time.Time            `json:"timestamp"`
	ProcessingTime time.Duration        `json:"processing_time"`
}

// IntentType returns the turn's intent type, or "" when the turn carries no
// intent.
func (t *Turn) IntentType() string {
	if t == nil || t.Intent == nil {
		return ""
	}
	return t.Intent.Type
}

// LongTerm is the aggregate record for one session. It only grows.
type LongTerm struct {
	TotalTurns int                       `json:"total_turns"`
	Intents    map[string]int            `json:"intent_frequency"`
	Entities   map[string]map[string]int `json:"entity_frequency"`
	Patterns   map[string]any            `json:"patterns"`
}

func newLongTerm() *LongTerm {
	return &LongTerm{
		Intents:  make(map[string]int),
		Entities: make(map[string]map[string]int),
		Patterns: make(map[string]any),
	}
}

func (l *LongTerm) clone() LongTerm {
	cp := LongTerm{
		TotalTurns: l.TotalTurns,
		Intents:    make(map[string]int, len(l.Intents)),
		Entities:   make(map[string]map[string]int, len(l.Entities)),
		Patterns:   make(map[string]any, len(l.Patterns)),
	}
	for k, v := range l.Intents {
		cp.Intents[k] = v
	}
	for typ, vals := range l.Entities {
		inner := make(map[string]int, len(vals))
		for k, v := range vals {
			inner[k] = v
		}
		cp.Entities[typ] = inner
	}
	for k, v := range l.Patterns {
		cp.Patterns[k] = v
	}
	return cp
}

// Config holds configuration for Store.
type Config struct {
	// MaxTurns is the short-term buffer cap per session. Default: 1000.
	MaxTurns int

	// ScanFactor bounds retrieval to the ScanFactor*limit most recent turns.
	// Default: 2.
	ScanFactor int

	// Threshold is the exclusive lower bound on relevance. Default: 0.3.
	Threshold float64

	// Now returns the scoring time. Default: time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:   DefaultMaxTurns,
		ScanFactor: DefaultScanFactor,
		Threshold:  DefaultThreshold,
		Now:        time.Now,
	}
}

// Store is the conversation memory for all sessions. It is safe for
// concurrent use, but callers must not store turns for the same session from
// two goroutines at once if they care about turn order.
//
// Each session has two tiers:
//
//   - short-term: the most recent turns, oldest first, capped at MaxTurns.
//     GetRelevantHistory scores only the tail of this buffer.
//   - long-term: intent and entity frequencies over every turn ever stored
//     for the session. A turn is counted here as it arrives, before the
//     buffer is trimmed, so eviction never loses a count.
//
// Release drops the short-term buffer when a session ends. The long-term
// record stays readable through LongTermStats.
type Store struct {
	mu     sync.RWMutex
	config Config

	shortTerm map[string][]*Turn   // key: session ID
	longTerm  map[string]*LongTerm // key: session ID
}

// New creates a Store, filling zero config fields with defaults.
func New(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.ScanFactor <= 0 {
		cfg.ScanFactor = def.ScanFactor
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Store{
		config:    cfg,
		shortTerm: make(map[string][]*Turn),
		longTerm:  make(map[string]*LongTerm),
	}
}

// StoreTurn appends turn to the session's short-term buffer, folds it into
// the long-term aggregate, and evicts the oldest turns once the buffer is
// over capacity. It returns the evicted turns.
func (s *Store) StoreTurn(sessionID string, turn *Turn) []*Turn {
	if turn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortTerm[sessionID] = append(s.shortTerm[sessionID], turn)
	s.archiveLocked(sessionID, turn)
	return s.evictLocked(sessionID)
}

// evictLocked trims the buffer to MaxTurns, oldest first. Must be called
// with mu held.
func (s *Store) evictLocked(sessionID string) []*Turn {
	buf := s.shortTerm[sessionID]
	excess := len(buf) - s.config.MaxTurns
	if excess <= 0 {
		return nil
	}
	evicted := make([]*Turn, excess)
	copy(evicted, buf[:excess])

	kept := make([]*Turn, len(buf)-excess, s.config.MaxTurns+1)
	copy(kept, buf[excess:])
	s.shortTerm[sessionID] = kept
	return evicted
}

// archiveLocked folds turn into the long-term record. Must be called with mu
// held.
func (s *Store) archiveLocked(sessionID string, turn *Turn) {
	lt := s.longTerm[sessionID]
	if lt == nil {
		lt = newLongTerm()
		s.longTerm[sessionID] = lt
	}
	lt.TotalTurns++
	if turn.Intent == nil {
		return
	}
	lt.Intents[turn.Intent.Type]++
	turn.Intent.Entities.Each(func(typ, val string) {
		inner := lt.Entities[typ]
		if inner == nil {
			inner = make(map[string]int)
			lt.Entities[typ] = inner
		}
		inner[val]++
	})
}

// GetRelevantHistory returns up to limit turns from the session's recent
// history whose relevance to current exceeds the threshold, most relevant
// first. Only the ScanFactor*limit most recent turns are considered.
func (s *Store) GetRelevantHistory(sessionID string, current *intent.ParsedIntent, limit int) []*Turn {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.RLock()
	buf := s.shortTerm[sessionID]
	scan := s.config.ScanFactor * limit
	if scan > len(buf) {
		scan = len(buf)
	}
	// Newest first.
	window := make([]*Turn, 0, scan)
	for i := len(buf) - 1; i >= len(buf)-scan; i-- {
		window = append(window, buf[i])
	}
	s.mu.RUnlock()

	if len(window) == 0 || current == nil {
		return nil
	}

	type scored struct {
		turn  *Turn
		score float64
	}
	now := s.config.Now()
	kept := make([]scored, 0, len(window))
	for _, t := range window {
		sc := relevance.ScoreAt(relevance.Turn{Intent: t.Intent, Timestamp: t.Timestamp}, current, now)
		if sc > s.config.Threshold {
			kept = append(kept, scored{turn: t, score: sc})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]*Turn, len(kept))
	for i, k := range kept {
		out[i] = k.turn
	}
	return out
}

// ShortTerm returns a copy of the session's short-term buffer, oldest first.
func (s *Store) ShortTerm(sessionID string) []*Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.shortTerm[sessionID]
	if len(buf) == 0 {
		return nil
	}
	out := make([]*Turn, len(buf))
	copy(out, buf)
	return out
}

// LongTermStats returns a copy of the session's aggregate record.
func (s *Store) LongTermStats(sessionID string) (LongTerm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.longTerm[sessionID]
	if !ok {
		return LongTerm{}, false
	}
	return lt.clone(), true
}

// Release drops the session's short-term buffer. Every stored turn has
// already been folded into the long-term record, which is kept.
func (s *Store) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shortTerm, sessionID)
}

// SetMaxTurns changes the short-term cap. It applies to subsequent stores.
func (s *Store) SetMaxTurns(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.config.MaxTurns = n
	s.mu.Unlock()
}
