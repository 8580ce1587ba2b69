package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	Name          string
	MaxFailures   int           // consecutive failures that open the circuit
	Timeout       time.Duration // time spent open before probing
	HalfOpenMax   int           // successful probes needed to close again
	OnStateChange func(name string, from, to State) // called with the breaker locked
	Now           func() time.Time
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	inFlight    int // half-open probes currently running
	lastFailure time.Time
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenMax < 1 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn unless the circuit is open. The error from fn is returned
// unchanged and counted as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allowRequest(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.lastFailure) < b.cfg.Timeout {
			return ErrCircuitOpen
		}
		b.transitionTo(StateHalfOpen)
		fallthrough

	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMax {
			return ErrTooManyRequests
		}
		b.inFlight++
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.lastFailure = b.cfg.Now()
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		b.inFlight--
		if !success {
			b.lastFailure = b.cfg.Now()
			b.transitionTo(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.cfg.HalfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(next State) {
	prev := b.state
	if prev == next {
		return
	}

	b.state = next
	b.failures = 0
	b.successes = 0
	b.inFlight = 0

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, prev, next)
	}
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count while closed
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the circuit and clears all counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.failures = 0
}
