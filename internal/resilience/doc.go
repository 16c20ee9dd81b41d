// Package resilience combines retries with circuit breakers behind a single
// Orchestrator. Each named operation is bound to a Strategy that controls how
// aggressively it is retried and how quickly its breaker trips.
package resilience
