package conversation

import (
	"sort"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/intent"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
)

// Status is the conversation state carried on Context and Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
)

// Turn is one processed exchange. It is shared by pointer between the
// session history and the memory buffer and must not be mutated once stored.
type Turn = memory.Turn

// Keys written into Context.Data by MaintainContext.
const (
	DataLastMessage    = "last_message"
	DataLastIntentType = "last_intent_type"
	DataLastConfidence = "last_confidence"
	DataTurnCount      = "turn_count"
)

// EntityContext maps an entity type to the distinct values seen for it, in
// first-seen order.
type EntityContext map[string][]string

// Merge appends value under typ unless it is already present. It reports
// whether the value was added.
func (e EntityContext) Merge(typ, value string) bool {
	for _, v := range e[typ] {
		if v == value {
			return false
		}
	}
	e[typ] = append(e[typ], value)
	return true
}

// Types returns the entity types present, sorted.
func (e EntityContext) Types() []string {
	out := make([]string, 0, len(e))
	for k, vals := range e {
		if len(vals) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (e EntityContext) clone() EntityContext {
	cp := make(EntityContext, len(e))
	for k, v := range e {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

// Context is the mutable per-session state.
type Context struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	// CurrentTopic is empty until an intent maps to a topic.
	CurrentTopic string `json:"current_topic,omitempty"`
	// Topics lists every topic the session has been on, first-seen order.
	Topics     []string             `json:"topics"`
	Entities   EntityContext        `json:"accumulated_entities"`
	Status     Status               `json:"conversation_status"`
	LastIntent *intent.ParsedIntent `json:"last_intent,omitempty"`
	Data       map[string]any       `json:"context_data"`
	TurnCount  int                  `json:"turn_count"`
}

func newContext(sessionID, userID string) *Context {
	return &Context{
		SessionID: sessionID,
		UserID:    userID,
		Topics:    []string{},
		Entities:  make(EntityContext),
		Status:    StatusActive,
		Data:      make(map[string]any),
	}
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Topics = append([]string{}, c.Topics...)
	cp.Entities = c.Entities.clone()
	cp.LastIntent = c.LastIntent.Clone()
	cp.Data = make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		cp.Data[k] = v
	}
	return &cp
}

func (c *Context) addTopic(topic string) {
	c.CurrentTopic = topic
	for _, t := range c.Topics {
		if t == topic {
			return
		}
	}
	c.Topics = append(c.Topics, topic)
}

// Session is the aggregate root of one user's dialogue.
type Session struct {
	ID           string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Status       Status         `json:"status"`
	Turns        []*Turn        `json:"turns"`
	Context      *Context       `json:"context"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TurnCount returns the number of recorded turns.
func (s *Session) TurnCount() int { return len(s.Turns) }

// snapshot copies everything the caller could mutate. Turns are immutable
// and shared.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.Turns = append([]*Turn(nil), s.Turns...)
	cp.Context = s.Context.Clone()
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
