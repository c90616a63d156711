package listingcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(path string, tls bool) Key {
	return Key{User: "bob", Host: "ftp.example.com", Port: 21, Path: path, ListCommand: "LIST", TLS: tls}
}

func TestInsertLookupRoundTrip(t *testing.T) {
	c := New(1 << 20)
	now := time.Now()
	c.InsertOrUpdate(key("/pub", false), []byte("hello"), now)

	e, ok := c.Lookup(key("/pub", false))
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), e.Bytes)
}

func TestLookupMissesOnTLSMismatch(t *testing.T) {
	c := New(1 << 20)
	c.InsertOrUpdate(key("/pub", false), []byte("plain"), time.Now())
	_, ok := c.Lookup(key("/pub", true))
	assert.False(t, ok)
}

func TestInvalidatePath(t *testing.T) {
	c := New(1 << 20)
	c.InsertOrUpdate(key("/pub", false), []byte("a"), time.Now())
	c.InsertOrUpdate(key("/pub/sub", false), []byte("b"), time.Now())
	c.InsertOrUpdate(key("/other", false), []byte("c"), time.Now())

	c.InvalidatePath("/pub", true)

	_, ok := c.Lookup(key("/pub", false))
	assert.False(t, ok)
	_, ok = c.Lookup(key("/pub/sub", false))
	assert.False(t, ok)
	_, ok = c.Lookup(key("/other", false))
	assert.True(t, ok)
}

func TestInvalidatePathExactOnly(t *testing.T) {
	c := New(1 << 20)
	c.InsertOrUpdate(key("/pub", false), []byte("a"), time.Now())
	c.InsertOrUpdate(key("/pub/sub", false), []byte("b"), time.Now())

	c.InvalidatePath("/pub", false)

	_, ok := c.Lookup(key("/pub", false))
	assert.False(t, ok)
	_, ok = c.Lookup(key("/pub/sub", false))
	assert.True(t, ok)
}

func TestEvictsOldestByCounterUnderByteCap(t *testing.T) {
	c := New(10) // tiny cap forces eviction
	c.InsertOrUpdate(key("/a", false), []byte("01234"), time.Now())
	c.InsertOrUpdate(key("/b", false), []byte("56789"), time.Now())
	// Inserting a third entry must evict /a (the oldest) to stay <= 10 bytes.
	c.InsertOrUpdate(key("/c", false), []byte("abcde"), time.Now())

	_, ok := c.Lookup(key("/a", false))
	assert.False(t, ok)
	_, ok = c.Lookup(key("/b", false))
	assert.True(t, ok)
	_, ok = c.Lookup(key("/c", false))
	assert.True(t, ok)
}

func TestLenTracksLiveEntries(t *testing.T) {
	c := New(1 << 20)
	assert.Equal(t, 0, c.Len())
	c.InsertOrUpdate(key("/a", false), []byte("x"), time.Now())
	assert.Equal(t, 1, c.Len())
}
