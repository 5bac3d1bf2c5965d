// Package environment loads configuration values from prefixed environment
// variables.
//
// A Loader scopes every lookup to a fixed prefix (e.g. "KOTOBA_") so callers
// write the short key and the process environment stays namespaced. Lookups
// never fail hard: unset, empty, or unparseable values fall back to the
// supplied default. Only Required returns an error, and it never exits the
// process.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Loader reads environment variables that share a common prefix.
type Loader struct {
	prefix string
	lookup func(string) (string, bool)
}

// New returns a Loader for the given prefix. The prefix is used verbatim,
// so include any separator ("KOTOBA_").
func New(prefix string) *Loader {
	return &Loader{prefix: prefix, lookup: os.LookupEnv}
}

// Key returns the full variable name for key.
func (l *Loader) Key(key string) string {
	return l.prefix + key
}

func (l *Loader) raw(key string) string {
	v, ok := l.lookup(l.Key(key))
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Lookup returns the raw value and whether the variable was set at all.
func (l *Loader) Lookup(key string) (string, bool) {
	return l.lookup(l.Key(key))
}

// StringOr returns the value of key or def when unset or blank.
func (l *Loader) StringOr(key, def string) string {
	if v := l.raw(key); v != "" {
		return v
	}
	return def
}

// Required returns the value of key or an error naming the full variable.
func (l *Loader) Required(key string) (string, error) {
	v := l.raw(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", l.Key(key))
	}
	return v, nil
}

// BoolOr parses key with strconv.ParseBool.
func (l *Loader) BoolOr(key string, def bool) bool {
	b, err := strconv.ParseBool(l.raw(key))
	if err != nil {
		return def
	}
	return b
}

// IntOr parses key as a base-10 integer.
func (l *Loader) IntOr(key string, def int) int {
	n, err := strconv.Atoi(l.raw(key))
	if err != nil {
		return def
	}
	return n
}

// Float64Or parses key as a float64 (thresholds, weights).
func (l *Loader) Float64Or(key string, def float64) float64 {
	f, err := strconv.ParseFloat(l.raw(key), 64)
	if err != nil {
		return def
	}
	return f
}

// DurationOr parses key with time.ParseDuration ("90s", "2h").
func (l *Loader) DurationOr(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(l.raw(key))
	if err != nil {
		return def
	}
	return d
}

// StringSliceOr splits key on commas, trimming blanks. An all-blank list
// yields def.
func (l *Loader) StringSliceOr(key string, def []string) []string {
	v := l.raw(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
