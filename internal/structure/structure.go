package structure

import (
	"fmt"
	"maps"
	"slices"
)

// State is the set of paths that currently exist in the simulated timeline.
// A State is never modified in place: With and Without return new values, so
// a State can be shared freely between speculative planning branches.
type State struct {
	paths map[string]struct{}
}

// New creates a State holding the given paths. Duplicates collapse.
func New(paths ...string) State {
	m := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		m[p] = struct{}{}
	}
	return State{paths: m}
}

// Has reports whether path exists in the state
func (s State) Has(path string) bool {
	_, ok := s.paths[path]
	return ok
}

// Len returns the number of paths
func (s State) Len() int {
	return len(s.paths)
}

// Empty reports whether the state holds no paths
func (s State) Empty() bool {
	return len(s.paths) == 0
}

// Paths returns the paths in sorted order.
func (s State) Paths() []string {
	return slices.Sorted(maps.Keys(s.paths))
}

// With returns a copy of the state with the given paths added.
func (s State) With(paths ...string) State {
	next := s.clone(len(paths))
	for _, p := range paths {
		next.paths[p] = struct{}{}
	}
	return next
}

// Without returns a copy of the state with the given paths removed.
func (s State) Without(paths ...string) State {
	next := s.clone(0)
	for _, p := range paths {
		delete(next.paths, p)
	}
	return next
}

// Equal reports whether both states hold exactly the same paths.
func (s State) Equal(other State) bool {
	if len(s.paths) != len(other.paths) {
		return false
	}
	for p := range s.paths {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// Diff returns the paths only present in s and the paths only present in other.
func (s State) Diff(other State) (onlyHere, onlyThere []string) {
	for _, p := range s.Paths() {
		if !other.Has(p) {
			onlyHere = append(onlyHere, p)
		}
	}
	for _, p := range other.Paths() {
		if !s.Has(p) {
			onlyThere = append(onlyThere, p)
		}
	}
	return onlyHere, onlyThere
}

func (s State) String() string {
	return fmt.Sprintf("%v", s.Paths())
}

func (s State) clone(extra int) State {
	m := make(map[string]struct{}, len(s.paths)+extra)
	for p := range s.paths {
		m[p] = struct{}{}
	}
	return State{paths: m}
}
