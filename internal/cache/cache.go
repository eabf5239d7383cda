// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides a best-effort response cache keyed by a
// fingerprint of the model and the transcript sent to it.
//
// Two backends are available: Memory, an in-process LRU bounded by the byte
// size of the cached values, and Redis, a shared cache with a TTL. A cache
// miss or backend failure only costs a round trip to the model server.
package cache

import (
	"context"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/enablerdao/ChirAI/internal/ollama"
)

// DefaultMaxBytes is the default size cap of the memory cache.
const DefaultMaxBytes = 50 << 20

// Cache stores completion text by key. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Clear(ctx context.Context) error
	Stats() Stats
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Fingerprint hashes model and messages into a cache key. Field boundaries
// are length-prefixed so different splits never collide.
func Fingerprint(model string, messages []ollama.Message) string {
	d := xxhash.New()
	writeField(d, model)
	for _, m := range messages {
		writeField(d, m.Role)
		writeField(d, m.Content)
	}
	var sum [8]byte
	return hex.EncodeToString(d.Sum(sum[:0]))
}

func writeField(d *xxhash.Digest, s string) {
	d.WriteString(strconv.Itoa(len(s)))
	d.WriteString(":")
	d.WriteString(s)
}
