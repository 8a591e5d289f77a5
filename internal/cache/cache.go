// Package cache provides the synthesis audio cache implementations.
//
// Synthesis is expensive and deterministic for a given request, so the
// gateway can serve repeated requests from Redis. When no Redis address is
// configured a no-op cache keeps the call sites unconditional.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/book-expert/melo-gateway/internal/core"
)

// keyPrefix namespaces gateway entries in a shared Redis instance.
const keyPrefix = "melo:synth:"

// Key derives the cache key for a resolved synthesis request. Language,
// speaker, and speed are part of the digest: the same text in another voice
// is different audio.
func Key(req core.SynthesisRequest) string {
	digest := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%.2f|%s",
		req.Language, req.Speaker, req.Speed, req.Text))

	return keyPrefix + hex.EncodeToString(digest[:])
}

// Noop is the disabled cache. Get always misses and Put discards.
type Noop struct{}

// NewNoop creates a disabled cache.
func NewNoop() *Noop {
	return &Noop{}
}

// Get never finds an entry.
func (*Noop) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

// Put discards the entry.
func (*Noop) Put(_ context.Context, _ string, _ []byte) error {
	return nil
}
