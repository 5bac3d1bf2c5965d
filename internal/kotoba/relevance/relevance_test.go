package relevance

import (
	"math"
	"testing"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScoreAt(t *testing.T) {
	alpha := intent.Entities{"project_name": {"Alpha"}}
	tests := []struct {
		name    string
		past    *intent.ParsedIntent
		current *intent.ParsedIntent
		age     time.Duration
		want    float64
	}{
		{
			name:    "same intent and entities, fresh",
			past:    &intent.ParsedIntent{Type: "create_project", Entities: alpha},
			current: &intent.ParsedIntent{Type: "create_project", Entities: alpha},
			want:    1.2,
		},
		{
			name:    "same intent and entities, 12h old",
			past:    &intent.ParsedIntent{Type: "create_project", Entities: alpha},
			current: &intent.ParsedIntent{Type: "create_project", Entities: alpha},
			age:     12 * time.Hour,
			want:    1.0,
		},
		{
			name:    "same intent, past 24h",
			past:    &intent.ParsedIntent{Type: "check_status"},
			current: &intent.ParsedIntent{Type: "check_status"},
			age:     30 * time.Hour,
			want:    0.5,
		},
		{
			name:    "different intent, empty entities",
			past:    &intent.ParsedIntent{Type: "check_status"},
			current: &intent.ParsedIntent{Type: "create_project"},
			want:    0,
		},
		{
			name:    "entity overlap only",
			past:    &intent.ParsedIntent{Type: "a", Entities: intent.Entities{"x": {"1", "2"}}},
			current: &intent.ParsedIntent{Type: "b", Entities: intent.Entities{"y": {"2", "3"}}},
			age:     24 * time.Hour,
			want:    0.3 * (1.0 / 3.0),
		},
		{
			name:    "one side empty skips jaccard",
			past:    &intent.ParsedIntent{Type: "a", Entities: alpha},
			current: &intent.ParsedIntent{Type: "a"},
			age:     24 * time.Hour,
			want:    0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreAt(Turn{Intent: tt.past, Timestamp: t0.Add(-tt.age)}, tt.current, t0)
			if !approx(got, tt.want) {
				t.Errorf("ScoreAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreAt_RecentTurnWinsNearHorizon(t *testing.T) {
	p := &intent.ParsedIntent{Type: "check_status", Entities: intent.Entities{"project_name": {"Apollo"}}}
	recent := ScoreAt(Turn{Intent: p, Timestamp: t0.Add(-23 * time.Hour)}, p, t0)
	old := ScoreAt(Turn{Intent: p, Timestamp: t0.Add(-30 * time.Hour)}, p, t0)
	if recent <= old {
		t.Fatalf("23h score %v not above 30h score %v", recent, old)
	}
	if want := 0.8 * (1 + 0.5/24); !approx(recent, want) {
		t.Errorf("23h score = %v, want %v", recent, want)
	}
	if !approx(old, 0.8) {
		t.Errorf("30h score = %v, want 0.8", old)
	}
}

func TestScoreAt_NeverIncreasesWithAge(t *testing.T) {
	p := &intent.ParsedIntent{Type: "a", Entities: intent.Entities{"k": {"v", "w"}}}
	q := &intent.ParsedIntent{Type: "a", Entities: intent.Entities{"k": {"v"}}}
	prev := math.Inf(1)
	for age := time.Duration(0); age <= 36*time.Hour; age += 30 * time.Minute {
		got := ScoreAt(Turn{Intent: p, Timestamp: t0.Add(-age)}, q, t0)
		if got > prev+1e-12 {
			t.Fatalf("age %v: score %v rose above %v", age, got, prev)
		}
		prev = got
	}
}

func TestScoreAt_Bounds(t *testing.T) {
	p := &intent.ParsedIntent{Type: "a", Entities: intent.Entities{"k": {"v"}}}
	for _, age := range []time.Duration{-time.Hour, 0, time.Hour, 48 * time.Hour} {
		got := ScoreAt(Turn{Intent: p, Timestamp: t0.Add(-age)}, p, t0)
		if got < 0 || got > 1.2+1e-9 {
			t.Errorf("age %v: score %v out of [0, 1.2]", age, got)
		}
	}
}

func TestScoreAt_NilIntent(t *testing.T) {
	if got := ScoreAt(Turn{}, &intent.ParsedIntent{Type: "a"}, t0); got != 0 {
		t.Errorf("nil past intent scored %v", got)
	}
}

func TestJaccard(t *testing.T) {
	set := func(xs ...string) map[string]struct{} {
		m := map[string]struct{}{}
		for _, x := range xs {
			m[x] = struct{}{}
		}
		return m
	}
	if got := Jaccard(set(), set()); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := Jaccard(set("a", "b"), set("a", "b")); got != 1 {
		t.Errorf("identical = %v", got)
	}
	if got := Jaccard(set("a"), set("b")); got != 0 {
		t.Errorf("disjoint = %v", got)
	}
}
