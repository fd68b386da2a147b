// Package normalization maps loosely written configuration values onto typed
// string enums.
package normalization

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Normalizer resolves case-insensitive, whitespace-tolerant input (and
// aliases) to a value of T.
type Normalizer[T comparable] struct {
	values   map[string]T
	fallback T
}

// NewNormalizer registers the accepted spellings. Unknown input resolves to fallback.
func NewNormalizer[T comparable](values map[string]T, fallback T) *Normalizer[T] {
	n := &Normalizer[T]{values: make(map[string]T, len(values)), fallback: fallback}
	for k, v := range values {
		n.values[fold(k)] = v
	}
	return n
}

func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[fold(raw)]; ok {
		return v
	}
	return n.fallback
}

// Parse is Normalize without the fallback: unknown input is an error naming
// the accepted spellings.
func (n *Normalizer[T]) Parse(raw string) (T, error) {
	if v, ok := n.values[fold(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid value %q (allowed: %s)", raw, strings.Join(n.Keys(), "|"))
}

// Contains reports whether v is one of the registered values.
func (n *Normalizer[T]) Contains(v T) bool {
	for _, known := range n.values {
		if known == v {
			return true
		}
	}
	return false
}

// Keys returns the accepted spellings, sorted.
func (n *Normalizer[T]) Keys() []string {
	return slices.Sorted(maps.Keys(n.values))
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
