// Package syncstate holds the shared session object replicated across the
// mesh.
package syncstate

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
)

// Change describes one mutation of the state. External changes were received
// from another peer and must not be broadcast again.
type Change struct {
	Key      string
	Value    any
	External bool
}

type State struct {
	mu       sync.RWMutex
	values   map[string]any
	external map[string]bool
}

func New() *State {
	return &State{
		values:   make(map[string]any),
		external: make(map[string]bool),
	}
}

// Set stores the normalized value under key, last write wins.
func (s *State) Set(key string, value any, external bool) (Change, error) {
	nv, err := Normalize(value)
	if err != nil {
		return Change{}, err
	}

	s.mu.Lock()
	s.values[key] = nv
	s.external[key] = external
	s.mu.Unlock()

	return Change{Key: key, Value: nv, External: external}, nil
}

func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// External reports whether the last write to key came from another peer.
func (s *State) External(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.external[key]
}

func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Keys(s.values)
}

// Snapshot returns a deep copy of the current mapping.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneMap(s.values)
}

// Load replaces the whole mapping with snapshot. Every key is marked external.
func (s *State) Load(snapshot map[string]any) error {
	values, err := NormalizeMap(snapshot)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	s.external = make(map[string]bool, len(values))
	for k := range values {
		s.external[k] = true
	}
	return nil
}

func (s *State) Fingerprint() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Fingerprint(s.values)
}

// CloneMap deep copies a normalized mapping. Nested maps and slices are
// copied, scalars are shared.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = clone(e)
		}
		return out
	default:
		return v
	}
}
