// Package match filters object keys with doublestar glob patterns.
package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against object keys.
//
// A key matches when it matches at least one include pattern (or there are
// none) and no exclude pattern. Keys are compared as-is; object store keys
// are opaque and may contain any character.
//
// A Matcher is safe for concurrent use.
type Matcher struct {
	includes   []string
	excludes   []string
	prefix     string
	skipHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a key must match (any). Empty matches all keys.
	Includes []string

	// Excludes are glob patterns a key must not match (any).
	Excludes []string

	// SkipHidden rejects keys with a path segment starting with '.'.
	SkipHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps a pattern failure with the offending pattern.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New compiles a Matcher.
//
// Backslash separators are converted to '/' unless they escape a glob
// metacharacter, so `logs\2024\a.gz` and `logs/2024/a.gz` are equivalent.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	prefixes := make([]string, len(includes))
	for i, p := range includes {
		prefixes[i] = DerivePrefix(p)
	}

	return &Matcher{
		includes:   includes,
		excludes:   excludes,
		prefix:     commonPrefix(prefixes),
		skipHidden: cfg.SkipHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		p := NormalizePattern(r)
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether key passes the filter.
func (m *Matcher) Match(key string) bool {
	if m.skipHidden && IsHidden(key) {
		return false
	}

	if len(m.includes) > 0 && !anyMatch(m.includes, key) {
		return false
	}
	return !anyMatch(m.excludes, key)
}

// Prefix returns the longest key prefix shared by every key the include
// patterns can match. Listing with it returns a superset of the matches.
// Empty means the whole bucket must be listed.
func (m *Matcher) Prefix() string {
	return m.prefix
}

// IsZero reports whether the matcher accepts every key.
func (m *Matcher) IsZero() bool {
	return len(m.includes) == 0 && len(m.excludes) == 0 && !m.skipHidden
}

func anyMatch(patterns []string, key string) bool {
	for _, p := range patterns {
		// patterns are validated in New, so Match cannot fail here
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}
