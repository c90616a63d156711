// Package exploredset implements the sorted set of server paths a
// single operation has already traversed, used to break cycles formed
// by symlink forests (spec.md §3/§4.4).
package exploredset

import "sort"

// Set is a sorted vector of paths ordered by (length, lexical) compare
// for O(log n) binary search, per spec.md §3's Design Notes.
//
// Not safe for concurrent use without external synchronisation; the
// operation coordinator owns one Set per operation and guards it with
// its own mutex alongside the queue (spec.md §3 "Ownership").
type Set struct {
	paths []string
}

// New creates an empty explored-path set.
func New() *Set { return &Set{} }

func less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (s *Set) search(path string) (idx int, found bool) {
	n := len(s.paths)
	i := sort.Search(n, func(i int) bool { return !less(s.paths[i], path) })
	if i < n && s.paths[i] == path {
		return i, true
	}
	return i, false
}

// Contains reports whether path has already been explored.
func (s *Set) Contains(path string) bool {
	_, found := s.search(path)
	return found
}

// Insert adds path to the set, returning true if it was newly added
// (false if it was already present).
func (s *Set) Insert(path string) bool {
	idx, found := s.search(path)
	if found {
		return false
	}
	s.paths = append(s.paths, "")
	copy(s.paths[idx+1:], s.paths[idx:])
	s.paths[idx] = path
	return true
}

// Len returns the number of explored paths.
func (s *Set) Len() int { return len(s.paths) }
