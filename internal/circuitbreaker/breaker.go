package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	FailThreshold    int           `json:"fail_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// Breaker counts consecutive transient failures per exchange. Once FailThreshold is
// reached it rejects calls for Timeout, then lets probes through until SuccessThreshold
// consecutive successes close it again. A failed probe reopens it.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	config    Config
	clock     clock.Clock
	onChange  func(from, to State)
	metrics   *Metrics
}

type Metrics struct {
	totalRequests    atomic.Int64
	successRequests  atomic.Int64
	failedRequests   atomic.Int64
	rejectedRequests atomic.Int64
	stateChanges     atomic.Int32
}

type Option func(*Breaker)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithStateChange registers a callback invoked, under the breaker lock, on every transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

func New(config Config, opts ...Option) *Breaker {
	b := &Breaker{
		state:   StateClosed,
		config:  config,
		clock:   clock.New(),
		metrics: &Metrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. An open breaker whose timeout
// has elapsed moves to half-open and admits the caller as a probe.
func (b *Breaker) Allow() bool {
	b.metrics.totalRequests.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.clock.Since(b.openedAt) >= b.config.Timeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
	}
	b.metrics.rejectedRequests.Add(1)
	return false
}

// Record reports the outcome of a call admitted by Allow.
func (b *Breaker) Record(success bool) {
	if success {
		b.metrics.successRequests.Add(1)
	} else {
		b.metrics.failedRequests.Add(1)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailThreshold {
			b.open()
		}
	case StateHalfOpen:
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.successes = 0
			b.transitionTo(StateClosed)
		}
	case StateOpen:
		// Late results from calls admitted before the breaker opened.
		if !success {
			b.openedAt = b.clock.Now()
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = b.clock.Now()
	b.successes = 0
	b.transitionTo(StateOpen)
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	b.metrics.stateChanges.Add(1)
	if b.onChange != nil {
		b.onChange(old, newState)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long an open breaker keeps rejecting calls.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	return max(0, b.config.Timeout-b.clock.Since(b.openedAt))
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.transitionTo(StateClosed)
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Successes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successes
}

func (b *Breaker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:    b.metrics.totalRequests.Load(),
		SuccessRequests:  b.metrics.successRequests.Load(),
		FailedRequests:   b.metrics.failedRequests.Load(),
		RejectedRequests: b.metrics.rejectedRequests.Load(),
		StateChanges:     b.metrics.stateChanges.Load(),
		CurrentState:     b.State().String(),
	}
}

type MetricsSnapshot struct {
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	RejectedRequests int64
	StateChanges     int32
	CurrentState     string
}
