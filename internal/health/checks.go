package health

import (
	"context"
	"fmt"

	"github.com/angeloszaimis/llm-starter/internal/cache"
	"github.com/angeloszaimis/llm-starter/internal/environment"
	"github.com/angeloszaimis/llm-starter/internal/resilience"
)

const minEnvironmentConfidence = 0.6

type Pinger interface {
	Ping(ctx context.Context) error
}

// EndpointPool is the view of the LLM endpoints the LLM check needs.
type EndpointPool interface {
	Len() int
	HealthyCount() int
}

type ResilienceReporter interface {
	Health() resilience.HealthReport
}

// CacheCheck pings c. A cache that can fall back to memory is degraded
// rather than unhealthy when its primary tier is down.
func CacheCheck(c Pinger) CheckFunc {
	return func(ctx context.Context) ComponentStatus {
		metadata := map[string]any{}
		if s, ok := c.(interface{ Stats() cache.Stats }); ok {
			stats := s.Stats()
			metadata["backend"] = stats.Backend
			metadata["hit_ratio"] = stats.HitRatio
			metadata["memory_entries"] = stats.MemoryEntries
			metadata["fallback_count"] = stats.FallbackCount
		}
		fallback, hasFallback := c.(interface{ Degraded() bool })

		if err := c.Ping(ctx); err != nil {
			if hasFallback {
				return ComponentStatus{
					Status:   StatusDegraded,
					Message:  "redis unavailable, serving from memory",
					Metadata: metadata,
				}
			}
			return ComponentStatus{Status: StatusUnhealthy, Message: err.Error(), Metadata: metadata}
		}

		if hasFallback && fallback.Degraded() {
			return ComponentStatus{
				Status:   StatusDegraded,
				Message:  "serving from memory fallback",
				Metadata: metadata,
			}
		}
		return ComponentStatus{Status: StatusHealthy, Metadata: metadata}
	}
}

// ResilienceCheck is degraded while any circuit breaker is open.
func ResilienceCheck(r ResilienceReporter) CheckFunc {
	return func(context.Context) ComponentStatus {
		report := r.Health()
		metadata := map[string]any{
			"operations":    report.Operations,
			"open_breakers": report.OpenBreakers,
		}
		if !report.Healthy {
			return ComponentStatus{
				Status:   StatusDegraded,
				Message:  fmt.Sprintf("%d circuit breaker(s) open", len(report.OpenBreakers)),
				Metadata: metadata,
			}
		}
		return ComponentStatus{Status: StatusHealthy, Metadata: metadata}
	}
}

// LLMCheck is unhealthy without an API key and degraded when no endpoint
// is currently healthy.
func LLMCheck(configured bool, pool EndpointPool) CheckFunc {
	return func(context.Context) ComponentStatus {
		if !configured {
			return ComponentStatus{Status: StatusUnhealthy, Message: "LLM API key not configured"}
		}
		if pool == nil || pool.Len() == 0 {
			return ComponentStatus{Status: StatusUnhealthy, Message: "no LLM endpoints configured"}
		}

		metadata := map[string]any{
			"endpoints":         pool.Len(),
			"healthy_endpoints": pool.HealthyCount(),
		}
		if pool.HealthyCount() == 0 {
			return ComponentStatus{
				Status:   StatusDegraded,
				Message:  "no healthy LLM endpoint",
				Metadata: metadata,
			}
		}
		return ComponentStatus{Status: StatusHealthy, Metadata: metadata}
	}
}

// EnvironmentCheck is degraded when the environment cannot be determined
// with reasonable confidence.
func EnvironmentCheck(d *environment.Detector) CheckFunc {
	return func(context.Context) ComponentStatus {
		info := d.Detect(environment.ContextDefault)
		metadata := map[string]any{
			"environment": info.Environment,
			"confidence":  info.Confidence,
			"detected_by": info.DetectedBy,
		}

		switch {
		case info.Environment == environment.Unknown:
			return ComponentStatus{Status: StatusDegraded, Message: "environment unknown", Metadata: metadata}
		case info.Confidence < minEnvironmentConfidence:
			return ComponentStatus{
				Status:   StatusDegraded,
				Message:  fmt.Sprintf("low detection confidence %.2f", info.Confidence),
				Metadata: metadata,
			}
		}
		return ComponentStatus{Status: StatusHealthy, Metadata: metadata}
	}
}
