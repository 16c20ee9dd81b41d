package metrics

import (
	"maps"
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	selections    map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]string
	cacheLookups  map[string]*CacheMetrics
	startTime     time.Time
}

type Snapshot struct {
	Service       string                  `json:"service"`
	TotalRequests int64                   `json:"total_requests"`
	Uptime        time.Duration           `json:"uptime"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Routes        map[string]RouteMetrics `json:"routes"`
	Endpoints     map[string]int64        `json:"endpoint_selections"`
	Health        map[string]string       `json:"health"`
	Cache         map[string]CacheMetrics `json:"cache"`
}

type RouteMetrics struct {
	Requests    int64         `json:"requests"`
	Errors      int64         `json:"errors"`
	ErrorRate   float64       `json:"error_rate"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

type CacheMetrics struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

func (m *Metrics) IncrementRequests(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[route]++
}

func (m *Metrics) RecordEndpointSelection(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[endpoint]++
}

func (m *Metrics) RecordResponse(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[route] = append(m.responseTimes[route], duration)

	if len(m.responseTimes[route]) > maxSamples {
		m.responseTimes[route] = m.responseTimes[route][1:]
	}

	if m.statusCodes[route] == nil {
		m.statusCodes[route] = make(map[int]int64)
	}
	m.statusCodes[route][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(component, status string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[component] = status
}

func (m *Metrics) RecordCacheLookup(operation string, hit bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cm := m.cacheLookups[operation]
	if cm == nil {
		cm = &CacheMetrics{}
		m.cacheLookups[operation] = cm
	}
	if hit {
		cm.Hits++
	} else {
		cm.Misses++
	}
}

// Snapshot returns a copy of the current metrics that is safe to encode
// while recording continues.
func (m *Metrics) Snapshot(service string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	uptime := time.Since(m.startTime)
	snap := Snapshot{
		Service:       service,
		Uptime:        uptime,
		UptimeSeconds: uptime.Seconds(),
		Routes:        make(map[string]RouteMetrics),
		Endpoints:     maps.Clone(m.selections),
		Health:        maps.Clone(m.healthStatus),
		Cache:         make(map[string]CacheMetrics, len(m.cacheLookups)),
	}

	allRoutes := make(map[string]bool)
	for route := range m.requests {
		allRoutes[route] = true
	}
	for route := range m.responseTimes {
		allRoutes[route] = true
	}

	for route := range allRoutes {
		snap.TotalRequests += m.requests[route]

		rm := RouteMetrics{
			Requests:    m.requests[route],
			StatusCodes: maps.Clone(m.statusCodes[route]),
		}

		var responses int64
		for code, n := range rm.StatusCodes {
			responses += n
			if code >= 500 {
				rm.Errors += n
			}
		}
		if responses > 0 {
			rm.ErrorRate = float64(rm.Errors) / float64(responses)
		}

		durations := m.responseTimes[route]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Routes[route] = rm
	}

	for op, cm := range m.cacheLookups {
		c := *cm
		if total := c.Hits + c.Misses; total > 0 {
			c.HitRatio = float64(c.Hits) / float64(total)
		}
		snap.Cache[op] = c
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		selections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]string),
		cacheLookups:  make(map[string]*CacheMetrics),
		startTime:     time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
