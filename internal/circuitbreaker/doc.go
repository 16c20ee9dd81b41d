// Package circuitbreaker implements the circuit breaker pattern for calls to
// external dependencies such as LLM providers.
//
// A circuit breaker prevents cascading failures by temporarily blocking calls
// to a failing dependency. It has three states:
//
//   - CLOSED: Normal operation, calls pass through
//   - OPEN: Dependency failing, calls blocked
//   - HALF-OPEN: Testing if the dependency recovered
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("summarize")
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return client.Call(ctx)
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // serve a fallback
//	}
package circuitbreaker
