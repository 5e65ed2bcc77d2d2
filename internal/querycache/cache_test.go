package querycache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fitstatus/internal/querycache"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClient(clock *fakeClock) *querycache.Client {
	return querycache.New(querycache.Options{Now: clock.Now})
}

func counting(calls *atomic.Int64, value func(n int64) string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		n := calls.Add(1)
		return value(n), nil
	}
}

func TestFetch_Disabled(t *testing.T) {
	c := newClient(newFakeClock())
	var calls atomic.Int64

	got, err := querycache.Fetch(context.Background(), c, querycache.Query[string]{
		Key:     querycache.Key("q"),
		Enabled: false,
		Fn:      counting(&calls, func(int64) string { return "v" }),
	})
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Zero(t, calls.Load())
	assert.Zero(t, c.Len())
}

func TestFetch_FreshEntryIsReused(t *testing.T) {
	clock := newFakeClock()
	c := newClient(clock)
	var calls atomic.Int64
	q := querycache.Query[string]{
		Key:       querycache.Key("q", "u1"),
		StaleTime: 5 * time.Minute,
		Enabled:   true,
		Fn:        counting(&calls, func(n int64) string { return "v" }),
	}

	for i := 0; i < 3; i++ {
		got, err := querycache.Fetch(context.Background(), c, q)
		require.NoError(t, err)
		assert.Equal(t, "v", got)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, int64(1), calls.Load())

	st := c.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Fetches)
}

func TestFetch_StaleEntryRefetchesInBackground(t *testing.T) {
	clock := newFakeClock()
	c := newClient(clock)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int64
	q := querycache.Query[int64]{
		Key:       querycache.Key("q"),
		StaleTime: 5 * time.Minute,
		Enabled:   true,
		Fn: func(context.Context) (int64, error) {
			return calls.Add(1), nil
		},
	}

	got, err := querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	clock.Advance(5 * time.Minute)

	got, err = querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "stale value is served while refetching")

	c.Wait()
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Refetches)

	got, err = querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetch_RefetchesCountRunsNotStaleHits(t *testing.T) {
	clock := newFakeClock()
	c := newClient(clock)

	var calls atomic.Int64
	release := make(chan struct{})
	q := querycache.Query[int64]{
		Key:       querycache.Key("q"),
		StaleTime: time.Minute,
		Enabled:   true,
		Fn: func(context.Context) (int64, error) {
			n := calls.Add(1)
			if n > 1 {
				<-release
			}
			return n, nil
		},
	}

	_, err := querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	for i := 0; i < 10; i++ {
		got, err := querycache.Fetch(context.Background(), c, q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	}
	close(release)
	c.Wait()

	assert.Equal(t, int64(2), calls.Load())
	st := c.Stats()
	assert.Equal(t, int64(10), st.Hits)
	assert.Equal(t, int64(1), st.Refetches)
}

func TestFetch_ErrorsAreNotCached(t *testing.T) {
	c := newClient(newFakeClock())
	var calls atomic.Int64
	boom := errors.New("db down")
	q := querycache.Query[string]{
		Key:       querycache.Key("q"),
		StaleTime: time.Minute,
		Enabled:   true,
		Fn: func(context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "", boom
			}
			return "ok", nil
		},
	}

	_, err := querycache.Fetch(context.Background(), c, q)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	got, err := querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetch_DeduplicatesConcurrentCalls(t *testing.T) {
	c := newClient(newFakeClock())
	var calls atomic.Int64
	release := make(chan struct{})
	q := querycache.Query[string]{
		Key:       querycache.Key("q", "u1"),
		StaleTime: time.Minute,
		Enabled:   true,
		Fn: func(context.Context) (string, error) {
			calls.Add(1)
			<-release
			return "shared", nil
		},
	}

	const n = 20
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := querycache.Fetch(context.Background(), c, q)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestFetch_DistinctKeysDoNotShare(t *testing.T) {
	c := newClient(newFakeClock())
	var calls atomic.Int64
	fn := counting(&calls, func(n int64) string { return "v" })

	for _, user := range []string{"u1", "u2"} {
		_, err := querycache.Fetch(context.Background(), c, querycache.Query[string]{
			Key: querycache.Key("q", user), StaleTime: time.Minute, Enabled: true, Fn: fn,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestFetch_CancelledCallerStopsWaiting(t *testing.T) {
	c := newClient(newFakeClock())
	release := make(chan struct{})
	q := querycache.Query[string]{
		Key:       querycache.Key("slow"),
		StaleTime: time.Minute,
		Enabled:   true,
		Fn: func(ctx context.Context) (string, error) {
			<-release
			return "done", ctx.Err()
		},
	}

	other := make(chan string, 1)
	go func() {
		v, _ := querycache.Fetch(context.Background(), c, q)
		other <- v
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := querycache.Fetch(ctx, c, q)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case v := <-other:
		assert.Equal(t, "done", v)
	case <-time.After(time.Second):
		t.Fatal("shared fetch did not complete")
	}
}

func TestInvalidate(t *testing.T) {
	c := newClient(newFakeClock())
	var calls atomic.Int64
	q := querycache.Query[string]{
		Key:       querycache.Key("q", "u1"),
		StaleTime: time.Hour,
		Enabled:   true,
		Fn:        counting(&calls, func(n int64) string { return "v" }),
	}

	_, err := querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	c.Invalidate(q.Key)
	assert.Zero(t, c.Len())

	_, err = querycache.Fetch(context.Background(), c, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestInvalidate_InFlightResultIsDropped(t *testing.T) {
	c := newClient(newFakeClock())
	started := make(chan struct{})
	release := make(chan struct{})
	q := querycache.Query[string]{
		Key:       querycache.Key("q"),
		StaleTime: time.Hour,
		Enabled:   true,
		Fn: func(context.Context) (string, error) {
			close(started)
			<-release
			return "old", nil
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := querycache.Fetch(context.Background(), c, q)
		assert.NoError(t, err)
		assert.Equal(t, "old", v)
	}()

	<-started
	assert.Equal(t, 1, querycache.TrackedKeys(c))
	c.Invalidate(q.Key)
	close(release)
	<-done

	assert.Zero(t, c.Len())
	assert.Zero(t, querycache.TrackedKeys(c), "finished fetches release their key")
}

func TestInvalidate_HoldsNoStateForIdleKeys(t *testing.T) {
	c := newClient(newFakeClock())
	fn := func(context.Context) (string, error) { return "v", nil }

	for i := 0; i < 50; i++ {
		k := querycache.Key("absence-status", i)
		_, err := querycache.Fetch(context.Background(), c, querycache.Query[string]{
			Key: k, StaleTime: time.Hour, Enabled: true, Fn: fn,
		})
		require.NoError(t, err)
		c.Invalidate(k)
		c.Invalidate(querycache.Key("never-fetched", i))
	}
	c.InvalidatePrefix("absence-status")
	c.Purge()

	assert.Zero(t, querycache.TrackedKeys(c))
}

func TestInvalidatePrefix(t *testing.T) {
	c := newClient(newFakeClock())
	fn := func(context.Context) (string, error) { return "v", nil }
	keys := []string{
		querycache.Key("body-projection", "u1", 30),
		querycache.Key("body-projection", "u1", 60),
		querycache.Key("body-projection", "u10", 30),
		querycache.Key("absence-status", "u1"),
	}
	for _, k := range keys {
		_, err := querycache.Fetch(context.Background(), c, querycache.Query[string]{
			Key: k, StaleTime: time.Hour, Enabled: true, Fn: fn,
		})
		require.NoError(t, err)
	}

	n := c.InvalidatePrefix("body-projection", "u1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, `["absence-status","u1"]`, querycache.Key("absence-status", "u1"))
	assert.Equal(t, `["body-projection","u1",30]`, querycache.Key("body-projection", "u1", 30))
	assert.Equal(t, `[]`, querycache.Key())

	assert.True(t, querycache.HasPrefix(querycache.Key("a", "b", 1), "a", "b"))
	assert.True(t, querycache.HasPrefix(querycache.Key("a", "b"), "a", "b"))
	assert.True(t, querycache.HasPrefix(querycache.Key("a")))
	assert.False(t, querycache.HasPrefix(querycache.Key("a", "bc"), "a", "b"))
	assert.False(t, querycache.HasPrefix(querycache.Key("b", "a"), "a"))
}
