// Package health runs named component checks and aggregates them into a
// system status.
//
// Each check runs under its own timeout. Unhealthy results are retried
// with a linear backoff, and a panicking check is reported as unhealthy
// rather than taking the process down. The overall status is the worst
// component status. A Monitor re-runs every check on an interval and
// reports status transitions.
package health
