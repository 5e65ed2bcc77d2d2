// Package querycache memoizes read queries by key. Concurrent fetches of the
// same key share one in-flight call, fresh results are served from memory,
// and stale results are served while a single background refetch runs.
package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSize is the default maximum number of cached entries.
	DefaultSize = 1024
	// DefaultGCTime is how long an entry is kept after it was last written.
	DefaultGCTime = time.Hour
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	Size   int
	GCTime time.Duration
	Now    func() time.Time
	Logger logrus.FieldLogger
}

// Stats counts cache activity since the client was created. Refetches counts
// background refetches that ran, not stale hits.
type Stats struct {
	Hits      int64
	Misses    int64
	Fetches   int64
	Refetches int64
}

type flight struct {
	gen     uint64
	running int
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Client holds cached query results.
type Client struct {
	entries *expirable.LRU[string, *entry]
	group   singleflight.Group
	now     func() time.Time
	log     logrus.FieldLogger

	// inflight tracks keys with a running fetch. Invalidation bumps gen so
	// that a fetch started before it does not repopulate the entry.
	mu       sync.Mutex
	inflight map[string]*flight

	refreshing sync.WaitGroup

	hits, misses, fetches, refetches atomic.Int64
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.GCTime <= 0 {
		opts.GCTime = DefaultGCTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Logger = l
	}
	return &Client{
		entries:  expirable.NewLRU[string, *entry](opts.Size, nil, opts.GCTime),
		now:      opts.Now,
		log:      opts.Logger,
		inflight: make(map[string]*flight),
	}
}

// Query describes one cached read.
type Query[T any] struct {
	Key       string
	StaleTime time.Duration
	// Enabled gates the query. A disabled query returns the zero value of T
	// and never calls Fn.
	Enabled bool
	Fn      func(ctx context.Context) (T, error)
}

// Fetch returns the cached value for q.Key, running q.Fn when there is no
// entry. Stale entries are returned immediately and refreshed in the
// background.
func Fetch[T any](ctx context.Context, c *Client, q Query[T]) (T, error) {
	var zero T
	if !q.Enabled {
		return zero, nil
	}

	fn := func(ctx context.Context) (any, error) { return q.Fn(ctx) }

	if e, ok := c.entries.Get(q.Key); ok {
		v, typed := e.value.(T)
		if typed {
			c.hits.Add(1)
			if c.now().Sub(e.fetchedAt) >= q.StaleTime {
				c.refetch(ctx, q.Key, fn)
			}
			return v, nil
		}
	}
	c.misses.Add(1)

	v, err := c.do(ctx, q.Key, fn)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

// do runs fn once per key across concurrent callers. The shared call is
// detached from the caller's cancellation; a cancelled caller stops waiting
// without failing the others.
func (c *Client) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, fn)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) load(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	f, ok := c.inflight[key]
	if !ok {
		f = &flight{}
		c.inflight[key] = f
	}
	f.running++
	gen := f.gen
	c.mu.Unlock()

	c.fetches.Add(1)
	v, err := fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if f.running--; f.running == 0 {
		delete(c.inflight, key)
	}
	if err != nil {
		return nil, err
	}
	if f.gen == gen {
		c.entries.Add(key, &entry{value: v, fetchedAt: c.now()})
	}
	return v, nil
}

func (c *Client) refetch(ctx context.Context, key string, fn func(context.Context) (any, error)) {
	c.refreshing.Add(1)
	ch := c.group.DoChan(key, func() (any, error) {
		c.refetches.Add(1)
		return c.load(context.WithoutCancel(ctx), key, fn)
	})
	go func() {
		defer c.refreshing.Done()
		if res := <-ch; res.Err != nil {
			c.log.WithError(res.Err).WithField("key", key).Warn("background refetch failed")
		}
	}()
}

// Invalidate drops the entry for key. A fetch already in flight for key will
// not store its result.
func (c *Client) Invalidate(key string) {
	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		f.gen++
	}
	c.mu.Unlock()
	c.entries.Remove(key)
	c.group.Forget(key)
}

// InvalidatePrefix drops every entry whose key starts with the given parts,
// e.g. InvalidatePrefix("body-projection", userID) drops all day offsets.
func (c *Client) InvalidatePrefix(parts ...any) int {
	n := 0
	for _, k := range c.entries.Keys() {
		if HasPrefix(k, parts...) {
			c.Invalidate(k)
			n++
		}
	}
	return n
}

// Purge drops every entry.
func (c *Client) Purge() {
	for _, k := range c.entries.Keys() {
		c.Invalidate(k)
	}
}

// Len returns the number of cached entries.
func (c *Client) Len() int {
	return c.entries.Len()
}

// Wait blocks until all background refetches have finished.
func (c *Client) Wait() {
	c.refreshing.Wait()
}

// Stats returns a snapshot of the cache counters.
func (c *Client) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetches.Load(),
		Refetches: c.refetches.Load(),
	}
}
