package llm

import (
	"errors"
	"sync"
)

var ErrNoHealthyEndpoint = errors.New("no healthy LLM endpoint")

// Pool hands out endpoints according to its selector.
type Pool struct {
	endpoints []*Endpoint
	selector  Selector
	mutex     sync.Mutex
}

func NewPool(endpoints []*Endpoint, selector Selector) *Pool {
	return &Pool{
		endpoints: endpoints,
		selector:  selector,
	}
}

// Acquire selects a healthy endpoint and reserves a request slot on it.
// Callers release the slot with DecrementActive.
func (p *Pool) Acquire() (*Endpoint, error) {
	p.mutex.Lock()

	healthy := p.healthy()
	if len(healthy) == 0 {
		p.mutex.Unlock()
		return nil, ErrNoHealthyEndpoint
	}

	chosen := p.selector.Select(healthy)
	p.mutex.Unlock()

	if chosen == nil {
		return nil, ErrNoHealthyEndpoint
	}

	chosen.IncrementActive()
	return chosen, nil
}

func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

func (p *Pool) Len() int {
	return len(p.endpoints)
}

func (p *Pool) HealthyCount() int {
	return len(p.healthy())
}

func (p *Pool) Stats() []EndpointStats {
	out := make([]EndpointStats, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		out = append(out, e.Stats())
	}
	return out
}

func (p *Pool) healthy() []*Endpoint {
	healthy := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.IsHealthy() {
			healthy = append(healthy, e)
		}
	}
	return healthy
}
