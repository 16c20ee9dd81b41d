// Package api exposes the HTTP surface: the public /v1 API used by
// clients and the /internal API used by operators. It owns the
// middleware chain and the mapping from service errors to JSON responses.
package api
