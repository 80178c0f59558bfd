package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurst(t *testing.T) {
	m := NewMemoryLimiter(1, 3)
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should pass", i)
	}
	ok, err := m.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst should be limited")
}

func TestMemoryLimiterRefill(t *testing.T) {
	// 100 tokens/sec so the refill window stays short.
	m := NewMemoryLimiter(100, 1)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "client")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "client")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)
	ok, err := m.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, ok, "bucket should refill after waiting")
}

func TestMemoryLimiterKeysIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "a")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	require.False(t, ok)

	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok, "a different key gets its own bucket")
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := NewMemoryLimiter(1000, 1000)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("worker-%d", n)
			for j := 0; j < 100; j++ {
				_, err := m.Allow(ctx, key)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()
	ctx := context.Background()

	_, _ = m.Allow(ctx, "old")
	m.mu.Lock()
	m.buckets["old"].lastAccess = time.Now().Add(-staleThreshold - time.Minute)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	_, ok := m.buckets["old"]
	m.mu.Unlock()
	assert.False(t, ok, "stale bucket should be evicted")
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	ok, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Close())
}
