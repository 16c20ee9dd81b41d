package llm

import (
	"net/url"
	"sync"
	"time"
)

const ewmaAlpha = 0.2

// Endpoint is one LLM base URL with health, in-flight request tracking and
// response time monitoring.
type Endpoint struct {
	url     *url.URL
	weight  int
	recheck time.Duration

	mutex            sync.Mutex
	isHealthy        bool
	unhealthySince   time.Time
	activeRequests   int
	ewmaResponseTime time.Duration
	hasEWMA          bool
	failures         int64
}

// EndpointStats is a point-in-time view of an endpoint.
type EndpointStats struct {
	URL            string        `json:"url"`
	Weight         int           `json:"weight"`
	Healthy        bool          `json:"healthy"`
	ActiveRequests int           `json:"active_requests"`
	EWMA           time.Duration `json:"ewma_response_time"`
	Failures       int64         `json:"failures"`
}

// NewEndpoint creates a healthy endpoint. A failed endpoint becomes
// eligible again once recheck has elapsed; zero means only a successful
// call or probe restores it.
func NewEndpoint(u *url.URL, weight int, recheck time.Duration) *Endpoint {
	if weight <= 0 {
		weight = 1
	}
	return &Endpoint{
		url:       u,
		weight:    weight,
		recheck:   recheck,
		isHealthy: true,
	}
}

func (e *Endpoint) URL() *url.URL {
	return e.url
}

func (e *Endpoint) Weight() int {
	return e.weight
}

// IncrementActive increments the in-flight request count.
func (e *Endpoint) IncrementActive() {
	e.mutex.Lock()
	e.activeRequests++
	e.mutex.Unlock()
}

// DecrementActive decrements the in-flight request count.
func (e *Endpoint) DecrementActive() {
	e.mutex.Lock()
	if e.activeRequests > 0 {
		e.activeRequests--
	}
	e.mutex.Unlock()
}

func (e *Endpoint) ActiveRequests() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.activeRequests
}

// IsHealthy reports whether the endpoint may receive traffic. An unhealthy
// endpoint is offered again once its recheck interval has passed.
func (e *Endpoint) IsHealthy() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.availableLocked(time.Now())
}

func (e *Endpoint) availableLocked(now time.Time) bool {
	if e.isHealthy {
		return true
	}
	return e.recheck > 0 && now.Sub(e.unhealthySince) >= e.recheck
}

// SetHealthy updates the health flag and reports whether it changed.
func (e *Endpoint) SetHealthy(healthy bool) (changed bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.isHealthy == healthy {
		if !healthy {
			e.unhealthySince = time.Now()
		}
		return false
	}

	e.isHealthy = healthy
	if !healthy {
		e.unhealthySince = time.Now()
		e.failures++
	}
	return true
}

// RecordResponse folds duration into the EWMA response time.
func (e *Endpoint) RecordResponse(duration time.Duration) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.hasEWMA {
		e.ewmaResponseTime = duration
		e.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	e.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(e.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the EWMA response time, or 0 before the first response.
func (e *Endpoint) EWMATime() time.Duration {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.hasEWMA {
		return 0
	}
	return e.ewmaResponseTime
}

func (e *Endpoint) Stats() EndpointStats {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return EndpointStats{
		URL:            e.url.String(),
		Weight:         e.weight,
		Healthy:        e.availableLocked(time.Now()),
		ActiveRequests: e.activeRequests,
		EWMA:           e.ewmaResponseTime,
		Failures:       e.failures,
	}
}
