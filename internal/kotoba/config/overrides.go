package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Runtime override keys.
const (
	KeySessionTimeout = "conversation.session_timeout"
	KeyWaitingBelow   = "conversation.waiting_below"
	KeyActiveAt       = "conversation.active_at"
	KeyMemoryMaxTurns = "memory.max_turns"
)

// ErrInvalidValue is returned when a value cannot be parsed for its key, or
// the key is not a known override.
var ErrInvalidValue = errors.New("config: invalid value")

// Keys returns the supported override keys, sorted.
func Keys() []string {
	keys := []string{KeySessionTimeout, KeyWaitingBelow, KeyActiveAt, KeyMemoryMaxTurns}
	sort.Strings(keys)
	return keys
}

// Overrides holds the parsed runtime overrides. Nil fields were not set.
type Overrides struct {
	SessionTimeout *time.Duration
	WaitingBelow   *float64
	ActiveAt       *float64
	MemoryMaxTurns *int
}

// Validate checks that value parses for key.
func Validate(key, value string) error {
	var o Overrides
	return o.apply(key, value)
}

func (o *Overrides) apply(key, value string) error {
	switch key {
	case KeySessionTimeout:
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %s=%q: want a positive duration", ErrInvalidValue, key, value)
		}
		o.SessionTimeout = &d
	case KeyWaitingBelow, KeyActiveAt:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("%w: %s=%q: want a number in [0,1]", ErrInvalidValue, key, value)
		}
		if key == KeyWaitingBelow {
			o.WaitingBelow = &f
		} else {
			o.ActiveAt = &f
		}
	case KeyMemoryMaxTurns:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s=%q: want a positive integer", ErrInvalidValue, key, value)
		}
		o.MemoryMaxTurns = &n
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidValue, key)
	}
	return nil
}

// LoadOverrides reads every stored override. Unknown keys are ignored so an
// older binary can run against a newer database; known keys with bad values
// are an error.
func LoadOverrides(ctx context.Context, s Store) (Overrides, error) {
	var o Overrides
	all, err := s.List(ctx)
	if err != nil {
		return o, err
	}
	for _, key := range Keys() {
		value, ok := all[key]
		if !ok {
			continue
		}
		if err := o.apply(key, value); err != nil {
			return o, err
		}
	}
	if o.WaitingBelow != nil && o.ActiveAt != nil && *o.WaitingBelow > *o.ActiveAt {
		return o, fmt.Errorf("%w: %s (%v) is above %s (%v)", ErrInvalidValue,
			KeyWaitingBelow, *o.WaitingBelow, KeyActiveAt, *o.ActiveAt)
	}
	return o, nil
}
