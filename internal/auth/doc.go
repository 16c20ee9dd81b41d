// Package auth implements API-key authentication with four modes.
//
// simple checks requests against the configured keys and lets everything
// through when no key is configured outside production. advanced adds
// HS256 JWT bearer tokens, per-request user tracking and request logging.
// development and test never require credentials when no keys are set,
// and are refused outright in production.
//
// Keys are compared in constant time. Only key ids (a short blake2b
// digest) ever reach logs or responses.
package auth
