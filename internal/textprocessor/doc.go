// Package textprocessor is the reference domain service: it summarises
// text, scores sentiment, extracts key points, generates questions and
// answers questions about a text.
//
// Every call is validated, sanitised, looked up in the cache and only
// then sent to the LLM through the resilience orchestrator. When the LLM
// is unavailable a degraded response is returned instead of an error.
package textprocessor
