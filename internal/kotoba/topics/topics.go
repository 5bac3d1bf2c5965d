// Package topics holds the immutable lookup tables that drive topic
// inference and contextual suggestions: intent type -> topic label, canned
// suggestions per topic, entity-driven suggestions and intent pattern rules.
//
// Tables are loaded from YAML and validated once at startup. The topic labels
// produced by intent inference and those keyed by suggestion templates must
// be the same set, so a typo in either fails the load instead of silently
// producing no suggestions.
package topics

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidTable is returned when a table fails validation.
var ErrInvalidTable = errors.New("topics: invalid table")

// MaxTopicSuggestions caps the canned suggestions returned per topic.
const MaxTopicSuggestions = 3

// Suggestion kinds.
const (
	KindAction   = "action"
	KindQuestion = "question"
)

// Suggestion is a follow-up offered to the user. It has no side effects.
type Suggestion struct {
	Type string `yaml:"type" json:"type"`
	Text string `yaml:"text" json:"text"`
}

// Pattern fires when Pair appears adjacently (in either order) in an intent
// sequence and the current intent is Current.
type Pattern struct {
	Pair       [2]string
	Current    string
	Suggestion Suggestion
}

type entitySuggestion struct {
	entityType string
	kind       string
	tmpl       *template.Template
}

// Table is the validated, read-only lookup table set. Safe for concurrent
// use.
type Table struct {
	intentTopics      map[string]string
	waiting           map[string]bool
	topicSuggestions  map[string][]Suggestion
	entitySuggestions []entitySuggestion
	patterns          []Pattern
}

type rawTable struct {
	IntentTopics      map[string]string       `yaml:"intent_topics"`
	WaitingIntents    []string                `yaml:"waiting_intents"`
	TopicSuggestions  map[string][]Suggestion `yaml:"topic_suggestions"`
	EntitySuggestions []struct {
		EntityType string `yaml:"entity_type"`
		Type       string `yaml:"type"`
		Text       string `yaml:"text"`
	} `yaml:"entity_suggestions"`
	Patterns []struct {
		Pair       []string   `yaml:"pair"`
		Current    string     `yaml:"current"`
		Suggestion Suggestion `yaml:"suggestion"`
	} `yaml:"patterns"`
}

// Default returns the built-in table.
func Default() (*Table, error) {
	return Parse(defaultYAML)
}

// MustDefault is Default for package-level initialisation and tests.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads and parses the table at path within fsys.
func Load(fsys fs.FS, path string) (*Table, error) {
	raw, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("topics: read %q: %w", path, err)
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("topics: %q: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML table. Unknown keys are rejected.
func Parse(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw rawTable
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}
	return build(raw)
}

func build(raw rawTable) (*Table, error) {
	if len(raw.IntentTopics) == 0 {
		return nil, fmt.Errorf("%w: intent_topics is empty", ErrInvalidTable)
	}

	t := &Table{
		intentTopics:     make(map[string]string, len(raw.IntentTopics)),
		waiting:          make(map[string]bool, len(raw.WaitingIntents)),
		topicSuggestions: make(map[string][]Suggestion, len(raw.TopicSuggestions)),
	}

	mapped := make(map[string]bool)
	for it, topic := range raw.IntentTopics {
		if it == "" || topic == "" {
			return nil, fmt.Errorf("%w: empty intent or topic in intent_topics", ErrInvalidTable)
		}
		t.intentTopics[it] = topic
		mapped[topic] = true
	}
	for _, it := range raw.WaitingIntents {
		t.waiting[it] = true
	}

	// --- topic label sets must match exactly ---
	for topic := range mapped {
		if _, ok := raw.TopicSuggestions[topic]; !ok {
			return nil, fmt.Errorf("%w: topic %q has no suggestion templates", ErrInvalidTable, topic)
		}
	}
	for topic, list := range raw.TopicSuggestions {
		if !mapped[topic] {
			return nil, fmt.Errorf("%w: suggestion templates for unknown topic %q", ErrInvalidTable, topic)
		}
		for _, s := range list {
			if err := checkSuggestion(s); err != nil {
				return nil, fmt.Errorf("%w: topic %q: %v", ErrInvalidTable, topic, err)
			}
		}
		t.topicSuggestions[topic] = append([]Suggestion(nil), list...)
	}

	for _, es := range raw.EntitySuggestions {
		if es.EntityType == "" {
			return nil, fmt.Errorf("%w: entity suggestion without entity_type", ErrInvalidTable)
		}
		if err := checkSuggestion(Suggestion{Type: es.Type, Text: es.Text}); err != nil {
			return nil, fmt.Errorf("%w: entity %q: %v", ErrInvalidTable, es.EntityType, err)
		}
		tmpl, err := template.New(es.EntityType).Option("missingkey=error").Parse(es.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %q: parse: %v", ErrInvalidTable, es.EntityType, err)
		}
		if _, err := render(tmpl, "probe"); err != nil {
			return nil, fmt.Errorf("%w: entity %q: render: %v", ErrInvalidTable, es.EntityType, err)
		}
		t.entitySuggestions = append(t.entitySuggestions, entitySuggestion{
			entityType: es.EntityType,
			kind:       es.Type,
			tmpl:       tmpl,
		})
	}

	for i, p := range raw.Patterns {
		if len(p.Pair) != 2 {
			return nil, fmt.Errorf("%w: pattern %d: pair must have two intents", ErrInvalidTable, i)
		}
		for _, it := range append([]string{p.Current}, p.Pair...) {
			if !t.knownIntent(it) {
				return nil, fmt.Errorf("%w: pattern %d: unknown intent %q", ErrInvalidTable, i, it)
			}
		}
		if err := checkSuggestion(p.Suggestion); err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %v", ErrInvalidTable, i, err)
		}
		t.patterns = append(t.patterns, Pattern{
			Pair:       [2]string{p.Pair[0], p.Pair[1]},
			Current:    p.Current,
			Suggestion: p.Suggestion,
		})
	}

	return t, nil
}

func checkSuggestion(s Suggestion) error {
	if s.Type != KindAction && s.Type != KindQuestion {
		return fmt.Errorf("suggestion type %q is not %q or %q", s.Type, KindAction, KindQuestion)
	}
	if strings.TrimSpace(s.Text) == "" {
		return errors.New("suggestion text is empty")
	}
	return nil
}

func render(tmpl *template.Template, value string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Value string }{value}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (t *Table) knownIntent(it string) bool {
	_, ok := t.intentTopics[it]
	return ok || t.waiting[it]
}

// Topic returns the topic label for an intent type.
func (t *Table) Topic(intentType string) (string, bool) {
	topic, ok := t.intentTopics[intentType]
	return topic, ok
}

// IsWaiting reports whether intentType forces the waiting state.
func (t *Table) IsWaiting(intentType string) bool {
	return t.waiting[intentType]
}

// Topics returns every topic label, sorted.
func (t *Table) Topics() []string {
	out := make([]string, 0, len(t.topicSuggestions))
	for topic := range t.topicSuggestions {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// TopicSuggestions returns up to MaxTopicSuggestions canned suggestions for
// topic.
func (t *Table) TopicSuggestions(topic string) []Suggestion {
	list := t.topicSuggestions[topic]
	if len(list) > MaxTopicSuggestions {
		list = list[:MaxTopicSuggestions]
	}
	return append([]Suggestion(nil), list...)
}

// EntitySuggestions renders one suggestion per configured entity type that
// has at least one value in entities, using the most recently added value.
func (t *Table) EntitySuggestions(entities map[string][]string) ([]Suggestion, error) {
	var out []Suggestion
	for _, es := range t.entitySuggestions {
		vals := entities[es.entityType]
		if len(vals) == 0 {
			continue
		}
		text, err := render(es.tmpl, vals[len(vals)-1])
		if err != nil {
			return out, fmt.Errorf("topics: entity %q: %w", es.entityType, err)
		}
		out = append(out, Suggestion{Type: es.kind, Text: text})
	}
	return out, nil
}

// PatternSuggestions returns the suggestions of every pattern whose pair
// appears adjacently in sequence and whose Current equals current.
func (t *Table) PatternSuggestions(sequence []string, current string) []Suggestion {
	var out []Suggestion
	for _, p := range t.patterns {
		if p.Current != current {
			continue
		}
		if adjacent(sequence, p.Pair[0], p.Pair[1]) {
			out = append(out, p.Suggestion)
		}
	}
	return out
}

func adjacent(seq []string, a, b string) bool {
	for i := 0; i+1 < len(seq); i++ {
		if (seq[i] == a && seq[i+1] == b) || (seq[i] == b && seq[i+1] == a) {
			return true
		}
	}
	return false
}
