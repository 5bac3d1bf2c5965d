// Package relevance scores how related a past turn is to the intent being
// handled now.
package relevance

import (
	"math"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

const (
	// SameIntentWeight is added when the past turn had the same intent type.
	SameIntentWeight = 0.5
	// EntityOverlapWeight scales the Jaccard similarity of entity values.
	EntityOverlapWeight = 0.3
	// RecencyBoost is the maximum multiplicative boost for a brand-new turn.
	RecencyBoost = 0.5
	// RecencyHorizon is the age at which the recency boost reaches zero.
	RecencyHorizon = 24 * time.Hour
)

// Turn is the subset of a stored turn the scorer reads.
type Turn struct {
	Intent    *intent.ParsedIntent
	Timestamp time.Time
}

// Score is ScoreAt with the current wall-clock time.
func Score(past Turn, current *intent.ParsedIntent) float64 {
	return ScoreAt(past, current, time.Now())
}

// ScoreAt returns the relevance of past to current as seen at now.
//
//	base  = 0.5 if intent types match
//	      + 0.3 * |A∩B| / |A∪B| over entity values (only if both non-empty)
//	score = base * (1 + 0.5 * max(0, 1 - age/24h))
//
// The result is never negative. A turn timestamped in the future is treated
// as age zero.
func ScoreAt(past Turn, current *intent.ParsedIntent, now time.Time) float64 {
	if past.Intent == nil || current == nil {
		return 0
	}

	base := 0.0
	if past.Intent.Type == current.Type {
		base += SameIntentWeight
	}

	a := past.Intent.Entities.ValueSet()
	b := current.Entities.ValueSet()
	if len(a) > 0 && len(b) > 0 {
		base += EntityOverlapWeight * Jaccard(a, b)
	}

	if base == 0 {
		return 0
	}

	age := now.Sub(past.Timestamp)
	if age < 0 {
		age = 0
	}
	boost := 1 + RecencyBoost*math.Max(0, 1-float64(age)/float64(RecencyHorizon))
	return base * boost
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
