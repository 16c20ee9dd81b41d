package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking Requests
	StateHalfOpen              // Testing with one request
)

// StateChangeFunc is invoked outside the breaker lock after every transition.
type StateChangeFunc func(name string, from, to State)

type CircuitBreaker struct {
	mutex            sync.Mutex
	name             string
	state            State
	failures         int
	lastFailure      time.Time
	lastStateChange  time.Time
	failureThreshold int
	resetTimeout     time.Duration
	totalCalls       int64
	totalFailures    int64
	totalSuccesses   int64
	totalRejections  int64
	onStateChange    StateChangeFunc
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name             string        `json:"name"`
	State            string        `json:"state"`
	Failures         int           `json:"failures"`
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	TotalCalls       int64         `json:"total_calls"`
	TotalFailures    int64         `json:"total_failures"`
	TotalSuccesses   int64         `json:"total_successes"`
	TotalRejections  int64         `json:"total_rejections"`
	LastFailure      time.Time     `json:"last_failure,omitempty"`
	LastStateChange  time.Time     `json:"last_state_change"`
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		lastStateChange:  time.Now(),
	}
}

// OnStateChange registers a transition callback.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mutex.Lock()
	cb.onStateChange = fn
	cb.mutex.Unlock()
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()

	var allowed bool
	from := cb.state

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.resetTimeout {
			cb.setState(StateHalfOpen)
			allowed = true
		}
	case StateHalfOpen:
		allowed = true
	default:
		allowed = true
	}

	if allowed {
		cb.totalCalls++
	} else {
		cb.totalRejections++
	}

	to := cb.state
	notify := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(notify, from, to)
	return allowed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()

	from := cb.state
	cb.failures++
	cb.totalFailures++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.setState(StateOpen)
	}

	to := cb.state
	notify := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(notify, from, to)
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()

	from := cb.state
	cb.failures = 0
	cb.totalSuccesses++
	cb.setState(StateClosed)

	notify := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(notify, from, StateClosed)
}

// Reset forces the breaker closed and clears the consecutive failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()

	from := cb.state
	cb.failures = 0
	cb.setState(StateClosed)

	notify := cb.onStateChange
	cb.mutex.Unlock()

	cb.notify(notify, from, StateClosed)
}

// Execute runs fn when the breaker allows it and records the outcome.
// Context cancellation is not counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		cb.RecordFailure()
	}
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Stats{
		Name:             cb.name,
		State:            cb.state.String(),
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		ResetTimeout:     cb.resetTimeout,
		TotalCalls:       cb.totalCalls,
		TotalFailures:    cb.totalFailures,
		TotalSuccesses:   cb.totalSuccesses,
		TotalRejections:  cb.totalRejections,
		LastFailure:      cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.lastStateChange = time.Now()
}

func (cb *CircuitBreaker) notify(fn StateChangeFunc, from, to State) {
	if fn != nil && from != to {
		fn(cb.name, from, to)
	}
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
