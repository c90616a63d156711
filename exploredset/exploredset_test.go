package exploredset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertAndContains(t *testing.T) {
	s := New()
	assert.False(t, s.Contains("/a"))
	assert.True(t, s.Insert("/a"))
	assert.True(t, s.Contains("/a"))
	assert.False(t, s.Insert("/a")) // already present
	assert.Equal(t, 1, s.Len())
}

func TestStrictlyIncreasing(t *testing.T) {
	s := New()
	paths := []string{"/a", "/a/b", "/a/b/c", "/z", "/aa"}
	for _, p := range paths {
		assert.True(t, s.Insert(p))
	}
	assert.Equal(t, len(paths), s.Len())
	for _, p := range paths {
		assert.True(t, s.Contains(p))
		assert.False(t, s.Insert(p), "re-inserting %q must not grow the set", p)
	}
}

func TestLengthFirstOrdering(t *testing.T) {
	s := New()
	s.Insert("/zz")
	s.Insert("/a")
	assert.Equal(t, []string{"/a", "/zz"}, s.paths)
}
