package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingComputer struct {
	calls atomic.Int32
	err   error
}

func (c *countingComputer) Compute(ctx context.Context, now time.Time) (*Snapshot, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &Snapshot{GeneratedAt: now, Summary: Summary{Total: int(n)}}, nil
}

func TestCacheReturnsSameSnapshotWithinTTL(t *testing.T) {
	computer := &countingComputer{}
	cache := NewCache(computer, 5*time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := cache.GetOrCompute(context.Background(), now)
	require.NoError(t, err)
	second, err := cache.GetOrCompute(context.Background(), now.Add(5*time.Minute-time.Nanosecond))
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 1, computer.calls.Load())
	require.Equal(t, now.Add(5*time.Minute), cache.Expiry())
}

func TestCacheRecomputesAtExpiry(t *testing.T) {
	computer := &countingComputer{}
	cache := NewCache(computer, time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := cache.GetOrCompute(context.Background(), now)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	snap, err := cache.GetOrCompute(context.Background(), later)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Summary.Total)
	require.Equal(t, later, snap.GeneratedAt)
	require.Equal(t, later.Add(time.Minute), cache.Expiry())
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	computer := &countingComputer{err: errors.New("store down")}
	cache := NewCache(computer, time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := cache.GetOrCompute(context.Background(), now)
	require.Error(t, err)
	require.True(t, cache.Expiry().IsZero())

	computer.err = nil
	snap, err := cache.GetOrCompute(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.EqualValues(t, 2, computer.calls.Load())
}

func TestCacheDefaultsTTL(t *testing.T) {
	cache := NewCache(&countingComputer{}, 0)
	require.Equal(t, DefaultTTL, cache.ttl)
}

func TestCacheConcurrentReaders(t *testing.T) {
	computer := &countingComputer{}
	cache := NewCache(computer, time.Hour)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := cache.GetOrCompute(context.Background(), now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.GetOrCompute(context.Background(), now.Add(time.Minute))
			if err == nil && snap.Summary.Total != 1 {
				t.Errorf("unexpected recompute: total=%d", snap.Summary.Total)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, computer.calls.Load())
}
