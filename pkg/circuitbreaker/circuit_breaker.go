// Package circuitbreaker stops hammering a provider instance that keeps
// failing. Breakers are grouped by key (one per channel instance) so a
// broken account never blocks calls for the healthy ones.
package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

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

// Counts decides whether an error returned by the protected call counts
// as a failure. Client errors such as an invalid number should not trip
// the breaker.
type Counts func(err error) bool

// CircuitBreaker implements the circuit breaker pattern for provider calls.
type CircuitBreaker struct {
	name             string
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxCalls int
	counts           Counts
	now              func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	halfOpenSucc int
	inFlight     int

	logger *logrus.Logger
}

// New creates a new circuit breaker. A nil logger is replaced by a default one.
func New(name string, maxFailures int, timeout time.Duration, counts Counts, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	if counts == nil {
		counts = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: 1,
		counts:           counts,
		now:              time.Now,
		state:            StateClosed,
		logger:           logger,
	}
}

// Execute runs fn when the breaker allows it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.acquire() {
		return &OpenError{Name: cb.name, State: cb.State()}
	}

	err := fn(ctx)
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.inFlight >= cb.halfOpenMaxCalls {
			return false
		}
		cb.inFlight++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && cb.counts(err)

	switch cb.state {
	case StateHalfOpen:
		cb.inFlight--
		if failed {
			cb.trip()
			return
		}
		cb.halfOpenSucc++
		if cb.halfOpenSucc >= cb.halfOpenMaxCalls {
			cb.reset()
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"state":           StateClosed.String(),
			}).Info("Circuit breaker closed after successful recovery")
		}
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}
	}
}

// advance moves an open breaker to half-open once the timeout elapsed.
// Callers must hold mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.timeout {
		cb.state = StateHalfOpen
		cb.halfOpenSucc = 0
		cb.inFlight = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker transitioned to half-open")
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenSucc = 0
	cb.inFlight = 0
}

// State returns the current state, promoting open to half-open when due.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// OpenError is returned when a call is rejected without being attempted.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpen reports whether err is a rejection by a breaker.
func IsOpen(err error) bool {
	var openErr *OpenError
	return stderrors.As(err, &openErr)
}

// Group hands out one breaker per key.
type Group struct {
	maxFailures int
	timeout     time.Duration
	counts      Counts
	logger      *logrus.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates a Group whose breakers share the same settings.
func NewGroup(maxFailures int, timeout time.Duration, counts Counts, logger *logrus.Logger) *Group {
	return &Group{
		maxFailures: maxFailures,
		timeout:     timeout,
		counts:      counts,
		logger:      logger,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[key]
	if !ok {
		cb = New(key, g.maxFailures, g.timeout, g.counts, g.logger)
		g.breakers[key] = cb
	}
	return cb
}
