package llm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

const (
	RoundRobin    = "round-robin"
	Random        = "random"
	LeastConn     = "least-conn"
	LeastResponse = "least-response"
	Weighted      = "weighted"
)

// Selector picks one endpoint from a non-empty list of healthy endpoints.
type Selector interface {
	Select(endpoints []*Endpoint) *Endpoint
}

// NewSelector returns the selector registered under name. An empty name
// selects round-robin.
func NewSelector(name string) (Selector, error) {
	switch name {
	case "", RoundRobin:
		return &roundRobinSelector{}, nil
	case Random:
		return randomSelector{}, nil
	case LeastConn:
		return leastConnSelector{}, nil
	case LeastResponse:
		return leastResponseSelector{}, nil
	case Weighted:
		return &weightedSelector{current: make(map[*Endpoint]int)}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}

type roundRobinSelector struct {
	current atomic.Uint64
}

func (s *roundRobinSelector) Select(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	n := s.current.Add(1)
	return endpoints[(n-1)%uint64(len(endpoints))]
}

type randomSelector struct{}

func (randomSelector) Select(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	return endpoints[rand.IntN(len(endpoints))]
}

type leastConnSelector struct{}

func (leastConnSelector) Select(endpoints []*Endpoint) *Endpoint {
	var best *Endpoint
	bestActive := math.MaxInt

	for _, e := range endpoints {
		if active := e.ActiveRequests(); active < bestActive {
			bestActive = active
			best = e
		}
	}
	return best
}

// leastResponseSelector scores endpoints by EWMA latency times in-flight
// requests plus one. Endpoints without samples are tried first.
type leastResponseSelector struct{}

func (leastResponseSelector) Select(endpoints []*Endpoint) *Endpoint {
	var (
		chosen *Endpoint
		best   time.Duration
	)

	for _, e := range endpoints {
		ewma := e.EWMATime()
		if ewma == 0 {
			return e
		}

		score := ewma * (time.Duration(e.ActiveRequests()) + 1)
		if chosen == nil || score < best {
			chosen = e
			best = score
		}
	}
	return chosen
}

// weightedSelector is smooth weighted round-robin: every endpoint gains its
// weight each round, the highest is chosen and pays back the total.
type weightedSelector struct {
	mutex   sync.Mutex
	current map[*Endpoint]int
}

func (s *weightedSelector) Select(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	alive := make(map[*Endpoint]struct{}, len(endpoints))
	for _, e := range endpoints {
		alive[e] = struct{}{}
	}
	for e := range s.current {
		if _, ok := alive[e]; !ok {
			delete(s.current, e)
		}
	}

	total := 0
	var chosen *Endpoint
	for _, e := range endpoints {
		s.current[e] += e.Weight()
		total += e.Weight()
		if chosen == nil || s.current[e] > s.current[chosen] {
			chosen = e
		}
	}

	s.current[chosen] -= total
	return chosen
}
