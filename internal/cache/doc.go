// Package cache provides the response cache used by domain services.
//
// Three implementations share the Cache interface:
//
//   - MemoryCache: bounded LRU with per-entry TTLs
//   - RedisCache: Redis-backed with optional compression of large values
//   - FallbackCache: Redis as primary with a memory L1 that keeps serving
//     when Redis is unreachable
//
// The factory functions pick sensible sizes and TTLs for web and AI
// workloads and always hand back a working cache: when Redis cannot be
// reached at startup the fallback tier serves from memory until it recovers.
package cache
