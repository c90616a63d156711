// Package pacer implements the exponential backoff and connection
// concurrency limiter the worker state machine uses around every FTP
// control-connection round trip (spec.md §4.8 "reconnect backoff").
//
// Grounded on rclone's lib/pacer: a token-bucket pace gate plus a
// pluggable Calculator that turns retry history into a sleep duration.
package pacer

import (
	"sync"
	"time"
)

// State is the retry history a Calculator turns into a sleep duration.
type State struct {
	SleepTime          time.Duration
	ConsecutiveRetries int
	LastError          error
}

// Calculator derives the next SleepTime from the current State.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Paced is the signature of a function the Pacer can retry: it reports
// whether the call should be retried and the error to surface.
type Paced func() (retry bool, err error)

// Pacer gates calls through a single in-flight pace token plus an
// optional bounded pool of connection tokens, backing off according to
// its Calculator whenever a call asks to be retried.
type Pacer struct {
	mu             sync.Mutex
	pacer          chan struct{}
	connTokens     chan struct{}
	maxConnections int
	retries        int
	calculator     Calculator
	state          State
}

// Option configures a Pacer at construction time.
type Option func(*Pacer)

// RetriesOption sets the maximum number of attempts Call makes before
// giving up.
func RetriesOption(retries int) Option {
	return func(p *Pacer) { p.retries = retries }
}

// MaxConnectionsOption bounds how many calls may be in flight at once;
// 0 (the default) means unbounded.
func MaxConnectionsOption(n int) Option {
	return func(p *Pacer) { p.SetMaxConnections(n) }
}

// CalculatorOption overrides the default backoff Calculator.
func CalculatorOption(c Calculator) Option {
	return func(p *Pacer) { p.calculator = c }
}

// New creates a Pacer with a Default calculator and a retry budget of
// 3, unless overridden by options.
func New(opts ...Option) *Pacer {
	p := &Pacer{
		pacer:      make(chan struct{}, 1),
		retries:    3,
		calculator: NewDefault(),
	}
	p.pacer <- struct{}{}
	p.state.SleepTime = p.calculator.Calculate(State{})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMaxConnections changes the connection token pool size. Calls
// already in flight are unaffected; 0 disables the limit entirely.
func (p *Pacer) SetMaxConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConnections = n
	if n <= 0 {
		p.connTokens = nil
		return
	}
	p.connTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.connTokens <- struct{}{}
	}
}

// SetRetries changes the retry budget future Call invocations use.
func (p *Pacer) SetRetries(retries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = retries
}

// beginCall blocks until the single pace token and (if bounded) a
// connection token are both available, then schedules the pace token's
// return after the calculator's current sleep duration.
func (p *Pacer) beginCall() {
	<-p.pacer
	var connToken struct{}
	if p.connTokens != nil {
		connToken = <-p.connTokens
	}
	_ = connToken

	p.mu.Lock()
	sleep := p.state.SleepTime
	p.mu.Unlock()

	time.AfterFunc(sleep, func() { p.pacer <- struct{}{} })
}

// endCall folds the outcome of a call back into the backoff state and
// returns the connection token, if one was held.
func (p *Pacer) endCall(retry bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if retry {
		p.state.ConsecutiveRetries++
	} else {
		p.state.ConsecutiveRetries = 0
	}
	p.state.LastError = err
	p.state.SleepTime = p.calculator.Calculate(p.state)
	if p.connTokens != nil {
		p.connTokens <- struct{}{}
	}
}

// call runs fn, retrying up to maxTries times while fn asks to retry.
func (p *Pacer) call(fn Paced, maxTries int) error {
	var err error
	var retry bool
	for try := 1; try <= maxTries; try++ {
		p.beginCall()
		retry, err = fn()
		p.endCall(retry, err)
		if !retry {
			break
		}
	}
	return err
}

// Call runs fn, retrying according to the Pacer's configured budget.
func (p *Pacer) Call(fn Paced) error {
	p.mu.Lock()
	retries := p.retries
	p.mu.Unlock()
	return p.call(fn, retries)
}

// CallNoRetry runs fn exactly once, still subject to pacing and the
// connection limit.
func (p *Pacer) CallNoRetry(fn Paced) error {
	return p.call(fn, 1)
}
