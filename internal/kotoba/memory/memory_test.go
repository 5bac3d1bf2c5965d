package memory

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func turn(id, intentType string, age time.Duration, ents intent.Entities) *Turn {
	return &Turn{
		ID:        id,
		Intent:    &intent.ParsedIntent{Type: intentType, Confidence: 0.9, Entities: ents},
		Timestamp: t0.Add(-age),
	}
}

func ids(turns []*Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.ID
	}
	return out
}

func TestStoreTurn_EvictsFIFOAndAggregates(t *testing.T) {
	s := New(Config{MaxTurns: 3, Now: fixedNow})
	for _, typ := range []string{"A", "B", "C", "D", "E"} {
		s.StoreTurn("s1", turn(typ, typ, 0, nil))
	}

	if got := ids(s.ShortTerm("s1")); !reflect.DeepEqual(got, []string{"C", "D", "E"}) {
		t.Errorf("short-term = %v, want [C D E]", got)
	}
	lt, ok := s.LongTermStats("s1")
	if !ok {
		t.Fatal("no long-term record")
	}
	if lt.TotalTurns != 5 {
		t.Errorf("TotalTurns = %d, want 5", lt.TotalTurns)
	}
	for _, typ := range []string{"A", "B", "C", "D", "E"} {
		if lt.Intents[typ] != 1 {
			t.Errorf("Intents[%s] = %d, want 1", typ, lt.Intents[typ])
		}
	}
}

func TestStoreTurn_ReturnsEvicted(t *testing.T) {
	s := New(Config{MaxTurns: 2, Now: fixedNow})
	if ev := s.StoreTurn("s", turn("1", "a", 0, nil)); ev != nil {
		t.Errorf("unexpected eviction %v", ids(ev))
	}
	s.StoreTurn("s", turn("2", "a", 0, nil))
	ev := s.StoreTurn("s", turn("3", "a", 0, nil))
	if got := ids(ev); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("evicted = %v, want [1]", got)
	}
}

func TestStoreTurn_CapPlusK(t *testing.T) {
	const maxTurns = 10
	for k := 1; k <= 4; k++ {
		s := New(Config{MaxTurns: maxTurns, Now: fixedNow})
		for i := 0; i < maxTurns+k; i++ {
			s.StoreTurn("s", turn(fmt.Sprint(i), "x", 0, nil))
		}
		if n := len(s.ShortTerm("s")); n != maxTurns {
			t.Errorf("k=%d: short-term len = %d, want %d", k, n, maxTurns)
		}
		lt, _ := s.LongTermStats("s")
		if lt.TotalTurns != maxTurns+k {
			t.Errorf("k=%d: TotalTurns = %d, want %d", k, lt.TotalTurns, maxTurns+k)
		}
	}
}

func TestStoreTurn_EntityHistogram(t *testing.T) {
	s := New(Config{Now: fixedNow})
	s.StoreTurn("s", turn("1", "a", 0, intent.Entities{"project_name": {"Apollo"}}))
	s.StoreTurn("s", turn("2", "a", 0, intent.Entities{"project_name": {"Apollo", "Zeus"}}))

	lt, _ := s.LongTermStats("s")
	want := map[string]int{"Apollo": 2, "Zeus": 1}
	if !reflect.DeepEqual(lt.Entities["project_name"], want) {
		t.Errorf("entity histogram = %v, want %v", lt.Entities["project_name"], want)
	}
}

func TestLongTermStats_ReturnsCopy(t *testing.T) {
	s := New(Config{Now: fixedNow})
	s.StoreTurn("s", turn("1", "a", 0, nil))
	lt, _ := s.LongTermStats("s")
	lt.Intents["a"] = 99
	again, _ := s.LongTermStats("s")
	if again.Intents["a"] != 1 {
		t.Error("LongTermStats leaked internal map")
	}
}

func TestGetRelevantHistory_Empty(t *testing.T) {
	s := New(Config{Now: fixedNow})
	if got := s.GetRelevantHistory("missing", &intent.ParsedIntent{Type: "a"}, 5); len(got) != 0 {
		t.Errorf("got %v, want empty", ids(got))
	}
}

func TestGetRelevantHistory_FiltersAndOrders(t *testing.T) {
	s := New(Config{Now: fixedNow})
	apollo := intent.Entities{"project_name": {"Apollo"}}
	s.StoreTurn("s", turn("old-match", "create_project", 30*time.Hour, nil)) // 0.5
	s.StoreTurn("s", turn("other", "check_status", 0, nil))                   // 0
	s.StoreTurn("s", turn("fresh-match", "create_project", 0, apollo))        // 1.2
	s.StoreTurn("s", turn("entity-only", "check_status", 0, apollo))          // 0.45

	got := s.GetRelevantHistory("s", &intent.ParsedIntent{Type: "create_project", Entities: apollo}, 5)
	want := []string{"fresh-match", "old-match", "entity-only"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Errorf("history = %v, want %v", ids(got), want)
	}
}

func TestGetRelevantHistory_StableOnTies(t *testing.T) {
	s := New(Config{Now: fixedNow})
	s.StoreTurn("s", turn("first", "a", 0, nil))
	s.StoreTurn("s", turn("second", "a", 0, nil))
	got := s.GetRelevantHistory("s", &intent.ParsedIntent{Type: "a"}, 5)
	// Scan order is newest first; equal scores keep it.
	if !reflect.DeepEqual(ids(got), []string{"second", "first"}) {
		t.Errorf("history = %v", ids(got))
	}
}

func TestGetRelevantHistory_ScanBound(t *testing.T) {
	s := New(Config{Now: fixedNow})
	s.StoreTurn("s", turn("relevant-but-old", "a", 0, nil))
	for i := 0; i < 4; i++ {
		s.StoreTurn("s", turn(fmt.Sprint("noise", i), "b", 0, nil))
	}
	// limit 2 scans the 4 most recent turns only.
	if got := s.GetRelevantHistory("s", &intent.ParsedIntent{Type: "a"}, 2); len(got) != 0 {
		t.Errorf("scan bound ignored: %v", ids(got))
	}
	if got := s.GetRelevantHistory("s", &intent.ParsedIntent{Type: "a"}, 3); len(got) != 1 {
		t.Errorf("limit 3 should reach the turn: %v", ids(got))
	}
}

func TestGetRelevantHistory_Limit(t *testing.T) {
	s := New(Config{Now: fixedNow})
	for i := 0; i < 10; i++ {
		s.StoreTurn("s", turn(fmt.Sprint(i), "a", 0, nil))
	}
	if got := s.GetRelevantHistory("s", &intent.ParsedIntent{Type: "a"}, 3); len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestRelease_KeepsLongTerm(t *testing.T) {
	s := New(Config{Now: fixedNow})
	s.StoreTurn("s", turn("1", "a", 0, nil))
	s.Release("s")
	if len(s.ShortTerm("s")) != 0 {
		t.Error("short-term not released")
	}
	if lt, ok := s.LongTermStats("s"); !ok || lt.TotalTurns != 1 {
		t.Errorf("long-term lost: %+v ok=%v", lt, ok)
	}
}
