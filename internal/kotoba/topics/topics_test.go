package topics

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

func TestDefault_Mapping(t *testing.T) {
	tbl := MustDefault()
	cases := map[string]string{
		"create_project":    "project_creation",
		"analyze_tension":   "problem_analysis",
		"get_agent_help":    "agent_assistance",
		"check_status":      "status_inquiry",
		"generate_solution": "solution_generation",
		"search_knowledge":  "knowledge_search",
	}
	for it, want := range cases {
		if got, ok := tbl.Topic(it); !ok || got != want {
			t.Errorf("Topic(%q) = %q, %v; want %q", it, got, ok, want)
		}
	}
	if _, ok := tbl.Topic("small_talk"); ok {
		t.Error("unmapped intent returned a topic")
	}
	if !tbl.IsWaiting("unknown") || tbl.IsWaiting("create_project") {
		t.Error("waiting intents wrong")
	}
	if len(tbl.Topics()) != 6 {
		t.Errorf("Topics = %v", tbl.Topics())
	}
}

func TestTopicSuggestions_Capped(t *testing.T) {
	tbl := MustDefault()
	for _, topic := range tbl.Topics() {
		got := tbl.TopicSuggestions(topic)
		if len(got) == 0 || len(got) > MaxTopicSuggestions {
			t.Errorf("%s: %d suggestions", topic, len(got))
		}
	}
	if got := tbl.TopicSuggestions("nope"); len(got) != 0 {
		t.Errorf("unknown topic returned %v", got)
	}
}

func TestEntitySuggestions(t *testing.T) {
	got, err := MustDefault().EntitySuggestions(map[string][]string{
		"project_name": {"Apollo", "Zeus"},
		"agent_type":   {"research"},
		"other":        {"x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []Suggestion{
		{Type: KindQuestion, Text: "Check the status of Zeus?"},
		{Type: KindAction, Text: "Connect with a research agent"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPatternSuggestions(t *testing.T) {
	tbl := MustDefault()
	seq := []string{"check_status", "analyze_tension", "create_project"}

	if got := tbl.PatternSuggestions(seq, "analyze_tension"); len(got) != 1 || !strings.Contains(got[0].Text, "Assign an agent") {
		t.Errorf("reverse order: %v", got)
	}
	if got := tbl.PatternSuggestions(seq, "get_agent_help"); len(got) != 1 || !strings.Contains(got[0].Text, "action plan") {
		t.Errorf("help: %v", got)
	}
	if got := tbl.PatternSuggestions(seq, "check_status"); len(got) != 0 {
		t.Errorf("non-matching current: %v", got)
	}
	if got := tbl.PatternSuggestions([]string{"create_project", "check_status", "analyze_tension"}, "analyze_tension"); len(got) != 0 {
		t.Errorf("non-adjacent pair matched: %v", got)
	}
}

const minimal = `
intent_topics:
  a: topic_a
topic_suggestions:
  topic_a:
    - {type: action, text: "do a"}
`

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"missing topic templates": `
intent_topics: {a: topic_a, b: topic_b}
topic_suggestions:
  topic_a: [{type: action, text: x}]`,
		"orphan templates": minimal + `
  topic_z:
    - {type: action, text: "z"}`,
		"bad kind": `
intent_topics: {a: topic_a}
topic_suggestions:
  topic_a: [{type: command, text: x}]`,
		"pattern unknown intent": minimal + `
patterns:
  - pair: [a, nope]
    current: a
    suggestion: {type: action, text: x}`,
		"entity template missing key": minimal + `
entity_suggestions:
  - {entity_type: p, type: action, text: "{{.Name}}"}`,
		"unknown field": minimal + `
extra: 1`,
		"empty": ``,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidTable) {
				t.Fatalf("err = %v, want ErrInvalidTable", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{"topics.yaml": {Data: []byte(minimal)}}
	tbl, err := Load(fsys, "topics.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, _ := tbl.Topic("a"); got != "topic_a" {
		t.Errorf("Topic = %q", got)
	}
	if _, err := Load(fsys, "missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
