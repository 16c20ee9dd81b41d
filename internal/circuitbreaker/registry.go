package circuitbreaker

import (
	"sort"
	"sync"
	"time"
)

type Registry struct {
	mutex         sync.RWMutex
	breakers      map[string]*CircuitBreaker
	threshold     int
	timeout       time.Duration
	onStateChange StateChangeFunc
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

// OnStateChange sets the callback attached to breakers created afterwards.
func (r *Registry) OnStateChange(fn StateChangeFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onStateChange = fn
}

// GetBreaker returns the breaker for name, creating it with the registry
// defaults on first use.
func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	return r.GetBreakerWith(name, r.threshold, r.timeout)
}

// GetBreakerWith is GetBreaker with explicit settings for a new breaker.
// Settings are ignored when the breaker already exists.
func (r *Registry) GetBreakerWith(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(name, threshold, timeout)
	if r.onStateChange != nil {
		cb.onStateChange = r.onStateChange
	}
	r.breakers[name] = cb
	return cb
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// ResetBreaker closes a single breaker. It reports whether the breaker exists.
func (r *Registry) ResetBreaker(name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State()
	}
	return stats
}

// Details returns full stats for every breaker, ordered by name.
func (r *Registry) Details() []Stats {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	out := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Open returns the names of breakers currently in the OPEN state.
func (r *Registry) Open() []string {
	var open []string
	for name, state := range r.Stats() {
		if state == StateOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}
