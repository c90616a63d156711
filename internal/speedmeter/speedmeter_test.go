package speedmeter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedReaderAccountsBytes(t *testing.T) {
	m := New(0)
	src := bytes.NewReader(make([]byte, 1024))
	r := m.NewReader(context.Background(), src)
	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, n)
	assert.EqualValues(t, 1024, m.Bytes())
	require.NoError(t, r.Close())
	assert.Equal(t, 0, m.ActiveTransfers())
}

func TestWriterAccountsBytes(t *testing.T) {
	m := New(0)
	var buf bytes.Buffer
	w := m.NewWriter(context.Background(), &buf)
	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.EqualValues(t, 11, m.Bytes())
	require.NoError(t, w.Close())
}

func TestSetLimitThrottles(t *testing.T) {
	m := New(100) // 100 bytes/sec
	src := bytes.NewReader(make([]byte, 300))
	r := m.NewReader(context.Background(), src)

	start := time.Now()
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	elapsed := time.Since(start)
	// Burst covers the first 100 bytes; the remaining 200 bytes must
	// wait on the limiter, so this cannot complete instantly.
	assert.Greater(t, elapsed, 500*time.Millisecond)
}

func TestSetLimitOffRemovesThrottle(t *testing.T) {
	m := New(1)
	m.SetLimit(0)
	src := bytes.NewReader(make([]byte, 1<<20))
	r := m.NewReader(context.Background(), src)
	start := time.Now()
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestActiveTransfersTracksOpenWrappers(t *testing.T) {
	m := New(0)
	r1 := m.NewReader(context.Background(), bytes.NewReader(nil))
	assert.Equal(t, 1, m.ActiveTransfers())
	r2 := m.NewReader(context.Background(), bytes.NewReader(nil))
	assert.Equal(t, 2, m.ActiveTransfers())
	require.NoError(t, r1.Close())
	assert.Equal(t, 1, m.ActiveTransfers())
	require.NoError(t, r2.Close())
	assert.Equal(t, 0, m.ActiveTransfers())
}
