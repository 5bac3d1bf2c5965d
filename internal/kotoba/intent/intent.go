// Package intent defines the structured output of intent parsing and the
// Parser boundary the conversation layer consumes.
//
// The conversation core never classifies text itself. It receives a
// ParsedIntent from whichever Parser the deployment wires in (keyword rules,
// an OpenAI-compatible model, or a caller that already parsed the message)
// and only reads its type, confidence, and entities.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// Intent types with built-in topic and suggestion wiring. Parsers may emit
// any other string; unknown types simply leave the topic untouched.
const (
	TypeCreateProject    = "create_project"
	TypeAnalyzeTension   = "analyze_tension"
	TypeGetAgentHelp     = "get_agent_help"
	TypeCheckStatus      = "check_status"
	TypeGenerateSolution = "generate_solution"
	TypeSearchKnowledge  = "search_knowledge"
	TypeClarify          = "clarify"
	TypeUnknown          = "unknown"
)

// Well-known entity types.
const (
	EntityProjectName = "project_name"
	EntityAgentType   = "agent_type"
)

// ErrMalformedIntent is returned when an intent payload does not have the
// required shape (non-empty type, confidence in [0,1], string or string-list
// entities).
var ErrMalformedIntent = errors.New("intent: malformed parsed intent")

// ErrRateLimit is returned by parsers backed by a remote model when the
// upstream reports throttling.
var ErrRateLimit = errors.New("intent: upstream rate limit exceeded")

// Parser turns a raw user message into a ParsedIntent. Implementations must
// not return a nil intent with a nil error; on uncertainty they return a
// low-confidence TypeUnknown intent instead.
type Parser interface {
	Parse(ctx context.Context, message string) (*ParsedIntent, error)
}

// ParsedIntent is the classified purpose of one user message.
type ParsedIntent struct {
	Type       string   `json:"intent_type"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities,omitempty"`
}

// Unknown returns a generic low-confidence intent.
func Unknown(confidence float64) *ParsedIntent {
	return &ParsedIntent{Type: TypeUnknown, Confidence: confidence}
}

// Clone returns a deep copy so stored turns never alias caller-owned maps.
func (p *ParsedIntent) Clone() *ParsedIntent {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Entities = p.Entities.Clone()
	return &cp
}

// Entities maps an entity type to the values extracted for it. A scalar in
// the wire format becomes a one-element list.
type Entities map[string]Values

// Values is the list of values for one entity type.
type Values []string

// MarshalJSON always emits a list so a nil Values round-trips as [].
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(v))
}

// UnmarshalJSON accepts a string, a list of strings, or null. Non-string
// list members are dropped.
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = nil
	case string:
		*v = Values{x}
	case []any:
		out := make(Values, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		*v = out
	default:
		*v = nil
	}
	return nil
}

// Types returns the entity types in sorted order.
func (e Entities) Types() []string {
	types := make([]string, 0, len(e))
	for k := range e {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// Each calls fn for every (type, value) pair, types sorted, values in list
// order. Empty strings are skipped.
func (e Entities) Each(fn func(entityType, value string)) {
	for _, typ := range e.Types() {
		for _, val := range e[typ] {
			if val == "" {
				continue
			}
			fn(typ, val)
		}
	}
}

// ValueSet returns every value referenced by e, across all types.
func (e Entities) ValueSet() map[string]struct{} {
	set := make(map[string]struct{})
	e.Each(func(_, value string) {
		set[value] = struct{}{}
	})
	return set
}

// First returns the first value for typ.
func (e Entities) First(typ string) (string, bool) {
	for _, v := range e[typ] {
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// Clone deep-copies e.
func (e Entities) Clone() Entities {
	if e == nil {
		return nil
	}
	cp := make(Entities, len(e))
	for k, vals := range e {
		cp[k] = append(Values(nil), vals...)
	}
	return cp
}
