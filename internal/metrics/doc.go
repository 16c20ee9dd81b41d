// Package metrics collects request, cache and health metrics for the
// service.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Request counts per route
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution and 5xx error rate per route
//   - LLM endpoint selection counts
//   - Cache hits and misses per text operation
//   - Component health status
//
// The collector runs in a dedicated goroutine. Emit never blocks the
// request path; events are dropped when the buffer is full.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Route:      "/v1/text_processing/process",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot("llm-starter")
//
// Remaining events are drained when the collector's context is cancelled.
package metrics
