// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enablerdao/ChirAI/internal/ollama"
)

// =============================================================================
// FINGERPRINT TESTS
// =============================================================================

func TestFingerprint(t *testing.T) {
	msgs := []ollama.Message{{Role: "user", Content: "Hello"}}

	a := Fingerprint("m1", msgs)
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint("m1", msgs))
	assert.NotEqual(t, a, Fingerprint("m2", msgs))
	assert.NotEqual(t, a, Fingerprint("m1", []ollama.Message{{Role: "user", Content: "Hello!"}}))

	// Moving text across a field boundary must change the key.
	x := Fingerprint("m", []ollama.Message{{Role: "user", Content: "ab"}})
	y := Fingerprint("m", []ollama.Message{{Role: "usera", Content: "b"}})
	assert.NotEqual(t, x, y)
}

// =============================================================================
// MEMORY CACHE TESTS
// =============================================================================

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	m.Set(ctx, "k", "v")
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.Bytes)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)
}

func TestMemory_EvictsLeastRecentlyUsedByBytes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(30) // each entry below costs 10 bytes

	m.Set(ctx, "a", strings.Repeat("a", 9))
	m.Set(ctx, "b", strings.Repeat("b", 9))
	m.Set(ctx, "c", strings.Repeat("c", 9))
	_, _ = m.Get(ctx, "a") // a is now most recent

	m.Set(ctx, "d", strings.Repeat("d", 9))

	_, ok := m.Get(ctx, "b")
	assert.False(t, ok, "b should be evicted")
	_, ok = m.Get(ctx, "a")
	assert.True(t, ok)
	assert.LessOrEqual(t, m.Stats().Bytes, int64(30))
}

func TestMemory_OversizedValueIgnored(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	m.Set(ctx, "k", "much too large")
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestMemory_ReplaceUpdatesBytes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(100)
	m.Set(ctx, "k", "12345")
	m.Set(ctx, "k", "1")
	assert.Equal(t, int64(2), m.Stats().Bytes)
	assert.Equal(t, 1, m.Stats().Entries)
}

func TestMemory_Clear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(100)
	m.Set(ctx, "k", "v")
	require.NoError(t, m.Clear(ctx))
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), m.Stats().Bytes)
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1 << 10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + (i+j)%26))
				m.Set(ctx, key, strings.Repeat("x", j%50))
				m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, m.Stats().Bytes, int64(1<<10))
}

// =============================================================================
// REDIS CACHE TESTS
// =============================================================================

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed cache tests")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisOptions{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Clear(ctx))

	r.Set(ctx, "k", "v")
	got, ok := r.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	require.NoError(t, r.Clear(ctx))
	_, ok = r.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), r.Stats().Hits)
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
