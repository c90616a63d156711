// Package speedmeter accounts bytes moved by the engine and throttles
// transfers against a global speed limit (spec.md §4.7 "speed meter").
//
// Grounded on rclone's Account reader (root package accounting.go,
// stats.Bytes book-keeping) combined with golang.org/x/time/rate for
// the actual token-bucket limiting rclone's fs/accounting package
// wires in for --bwlimit.
package speedmeter

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Meter tallies bytes moved across every data connection in an
// operation and optionally throttles them to a configured rate.
type Meter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	bytes     int64
	start     time.Time
	transfers int
}

// New creates a Meter. bytesPerSecond <= 0 means unlimited.
func New(bytesPerSecond int64) *Meter {
	m := &Meter{start: time.Now()}
	m.SetLimit(bytesPerSecond)
	return m
}

// SetLimit changes the global throttle at runtime; bytesPerSecond <= 0
// disables throttling.
func (m *Meter) SetLimit(bytesPerSecond int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bytesPerSecond <= 0 {
		m.limiter = nil
		return
	}
	m.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

// Bytes returns the total bytes accounted so far.
func (m *Meter) Bytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

// Rate returns the mean bytes/sec since the Meter was created.
func (m *Meter) Rate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	elapsed := time.Since(m.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.bytes) / elapsed
}

func (m *Meter) account(ctx context.Context, n int) error {
	m.mu.Lock()
	m.bytes += int64(n)
	limiter := m.limiter
	m.mu.Unlock()
	if limiter == nil || n <= 0 {
		return nil
	}
	for n > 0 {
		chunk := n
		if b := limiter.Burst(); chunk > b {
			chunk = b
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// beginTransfer/endTransfer track how many data connections are
// currently moving bytes, surfaced to the worker state machine for
// status reporting.
func (m *Meter) beginTransfer() {
	m.mu.Lock()
	m.transfers++
	m.mu.Unlock()
}

func (m *Meter) endTransfer() {
	m.mu.Lock()
	m.transfers--
	m.mu.Unlock()
}

// ActiveTransfers returns how many Readers/Writers wrapped by this
// Meter are currently open.
func (m *Meter) ActiveTransfers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transfers
}

// Reader wraps r, accounting every byte read against the owning Meter
// and blocking to respect its throttle.
type Reader struct {
	ctx context.Context
	r   io.Reader
	m   *Meter
}

// NewReader wraps r for accounted, throttled reading.
func (m *Meter) NewReader(ctx context.Context, r io.Reader) *Reader {
	m.beginTransfer()
	return &Reader{ctx: ctx, r: r, m: m}
}

func (a *Reader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		if aerr := a.m.account(a.ctx, n); aerr != nil && err == nil {
			err = aerr
		}
	}
	return n, err
}

// Close releases the transfer slot and closes the wrapped reader if it
// implements io.Closer.
func (a *Reader) Close() error {
	a.m.endTransfer()
	if c, ok := a.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Writer wraps w, accounting every byte written against the owning
// Meter and blocking to respect its throttle.
type Writer struct {
	ctx context.Context
	w   io.Writer
	m   *Meter
}

// NewWriter wraps w for accounted, throttled writing.
func (m *Meter) NewWriter(ctx context.Context, w io.Writer) *Writer {
	m.beginTransfer()
	return &Writer{ctx: ctx, w: w, m: m}
}

func (a *Writer) Write(p []byte) (int, error) {
	n, err := a.w.Write(p)
	if n > 0 {
		if aerr := a.m.account(a.ctx, n); aerr != nil && err == nil {
			err = aerr
		}
	}
	return n, err
}

// Close releases the transfer slot and closes the wrapped writer if it
// implements io.Closer.
func (a *Writer) Close() error {
	a.m.endTransfer()
	if c, ok := a.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
