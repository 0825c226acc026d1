package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(maxSize int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 4, 4, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(maxSize, time.Hour)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(10)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(59 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry must be absent once now >= expires_at")
	assert.Equal(t, 0, c.Size(), "expired entry must be physically removed")
}

func TestMemoryCache_SetRejectsNonPositiveTTL(t *testing.T) {
	c, _ := newTestCache(10)
	for _, ttl := range []time.Duration{0, -time.Second} {
		err := c.Set(context.Background(), "k", 1, ttl)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	assert.Equal(t, 0, c.Size())
}

func TestMemoryCache_SetDefault(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(10)

	require.NoError(t, c.SetDefault(ctx, "k", 1))
	clock.Advance(59 * time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	clock.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_DeleteAndClearAreIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(10)
	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "a"))
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Size())
}

func TestMemoryCache_CapacityNeverExceeded(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(20)

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Hour))
		clock.Advance(time.Millisecond)
		assert.LessOrEqual(t, c.Size(), 20)

		v, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		require.True(t, ok, "just-inserted entry must survive")
		assert.Equal(t, i, v)
	}
	assert.Greater(t, c.Stats().Evictions, int64(0))
}

func TestMemoryCache_EvictsOldestExpiringFirst(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(10)

	// Same expiry for every entry: insertion order decides.
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Hour))
	}
	require.NoError(t, c.Set(ctx, "new", "x", time.Hour))

	_, ok := c.Get(ctx, "k0")
	assert.False(t, ok, "oldest entry should be evicted")
	for i := 1; i < 10; i++ {
		_, ok := c.Get(ctx, fmt.Sprintf("k%d", i))
		assert.True(t, ok)
	}
	_, ok = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestMemoryCache_OverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(2)
	require.NoError(t, c.Set(ctx, "a", 1, time.Hour))
	require.NoError(t, c.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, c.Set(ctx, "a", 3, time.Hour))

	assert.Equal(t, 2, c.Size())
	v, _ := c.Get(ctx, "a")
	assert.Equal(t, 3, v)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestMemoryCache_SetPurgesExpiredBeforeEvicting(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(2)
	require.NoError(t, c.Set(ctx, "short", 1, time.Second))
	require.NoError(t, c.Set(ctx, "long", 2, time.Hour))

	clock.Advance(2 * time.Second)
	require.NoError(t, c.Set(ctx, "fresh", 3, time.Hour))

	_, ok := c.Get(ctx, "long")
	assert.True(t, ok)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestMemoryCache_Purge(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(10)
	require.NoError(t, c.Set(ctx, "a", 1, time.Second))
	require.NoError(t, c.Set(ctx, "b", 2, time.Hour))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Size())
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(50, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%75)
				_ = c.Set(ctx, key, i, time.Minute)
				c.Get(ctx, key)
				if i%50 == 0 {
					_ = c.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 50)
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(10)

	var calls int32
	fn := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"SGR01"}, nil
	}

	v, err := GetOrCompute(ctx, c, Key("zones"), time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"SGR01"}, v)

	_, err = GetOrCompute(ctx, c, Key("zones"), time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock.Advance(time.Minute)
	_, err = GetOrCompute(ctx, c, Key("zones"), time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(10)
	boom := errors.New("boom")

	_, err := GetOrCompute(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Size())

	v, err := GetOrCompute(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrCompute_InvalidTTL(t *testing.T) {
	c, _ := newTestCache(10)
	called := false
	_, err := GetOrCompute(context.Background(), c, "k", 0, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.False(t, called)
}

func TestGetOrCompute_NoSingleFlight(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	fn := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = GetOrCompute(ctx, c, "same", time.Minute, fn)
		}()
	}
	<-started
	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
