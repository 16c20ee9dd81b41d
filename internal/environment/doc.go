// Package environment detects which deployment environment the service is
// running in. Detection combines explicit environment variables, system
// indicators, hostname patterns and marker files, and reports a confidence
// score together with every signal that contributed to the decision.
//
// Feature contexts let callers ask environment questions on behalf of a
// specific concern (security enforcement, AI caching) that may override
// the plain detection result.
package environment
