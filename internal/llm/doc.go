// Package llm talks to OpenAI-compatible chat completion endpoints.
//
// Requests are spread over a pool of endpoints by a selection strategy:
//
//   - round-robin: sequential distribution
//   - random: uniform random choice
//   - least-conn: fewest in-flight requests
//   - least-response: lowest EWMA latency weighted by in-flight requests
//   - weighted: smooth weighted round-robin over configured weights
//
// A failed call takes its endpoint out of rotation until the recheck
// interval has passed or a probe finds it healthy again. Provider errors
// report whether they are worth retrying through Transient.
package llm
