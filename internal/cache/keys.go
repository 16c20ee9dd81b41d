package cache

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// operationTTLs are tuned to how quickly results of each operation go stale.
var operationTTLs = map[string]time.Duration{
	"summarize":  2 * time.Hour,
	"sentiment":  24 * time.Hour,
	"key_points": 2 * time.Hour,
	"questions":  time.Hour,
	"qa":         30 * time.Minute,
}

// TTLFor returns the TTL for operation, or fallback for unknown operations.
func TTLFor(operation string, fallback time.Duration) time.Duration {
	if ttl, ok := operationTTLs[operation]; ok {
		return ttl
	}
	return fallback
}

// KeyGenerator builds deterministic cache keys for text operations.
type KeyGenerator struct {
	prefix string
}

func NewKeyGenerator(prefix string) KeyGenerator {
	return KeyGenerator{prefix: prefix}
}

// Key returns prefix + operation + ":" + text digest, followed by a digest
// of the options and question when present. Option order does not matter.
func (g KeyGenerator) Key(operation, text string, options map[string]any, question string) string {
	var b strings.Builder
	b.WriteString(g.prefix)
	b.WriteString(operation)
	b.WriteByte(':')
	b.WriteString(digest(text))

	if len(options) > 0 || question != "" {
		names := make([]string, 0, len(options))
		for name := range options {
			names = append(names, name)
		}
		sort.Strings(names)

		var extra strings.Builder
		for _, name := range names {
			fmt.Fprintf(&extra, "%s=%v;", name, options[name])
		}
		if question != "" {
			extra.WriteString("q=")
			extra.WriteString(question)
		}
		b.WriteByte(':')
		b.WriteString(digest(extra.String())[:16])
	}

	return b.String()
}

func digest(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}
