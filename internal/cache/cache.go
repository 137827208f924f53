// Package cache holds a single time-boxed value that is reloaded on demand.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock returns the current time.
type Clock func() time.Time

// RefreshFunc produces a fresh value.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

type options struct {
	now Clock
}

type Option func(*options)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now Clock) Option {
	return func(o *options) {
		o.now = now
	}
}

// Cache is a single entry with an absolute expiry. The value is replaced
// only after a successful refresh; concurrent refreshes are collapsed into
// one call.
type Cache[T any] struct {
	name    string
	ttl     time.Duration
	now     Clock
	refresh RefreshFunc[T]

	mu       sync.RWMutex
	value    T
	loadedAt time.Time
	valid    bool
	gen      uint64 // bumped by Invalidate
	valueGen uint64 // gen the stored value was loaded under

	group singleflight.Group
}

func New[T any](name string, ttl time.Duration, refresh RefreshFunc[T], opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		name:    name,
		ttl:     ttl,
		now:     o.now,
		refresh: refresh,
	}
}

func (c *Cache[T]) Name() string {
	return c.name
}

// Get returns the cached value, refreshing it first if it is missing or
// older than the TTL.
//
// A refresh runs under the context of the caller that started it. If that
// caller is cancelled, callers sharing the refresh receive the same error.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	value, fresh := c.value, c.valid && c.now().Sub(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return value, nil
	}
	return c.load(ctx)
}

// Refresh reloads the value regardless of its age.
func (c *Cache[T]) Refresh(ctx context.Context) (T, error) {
	return c.load(ctx)
}

// Invalidate marks the value as expired. The stale value is kept until the
// next successful refresh replaces it. A refresh already in flight still
// stores its result but does not count as fresh.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.gen++
	c.mu.Unlock()
}

// LoadedAt returns the time of the last successful refresh, or the zero
// time if there has been none.
func (c *Cache[T]) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Cache[T]) load(ctx context.Context) (T, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// callers after an Invalidate must not join a refresh started before it
	key := c.name + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		start := c.now()
		value, err := c.refresh(ctx)
		if err != nil {
			slog.Warn("cache refresh failed", "cache", c.name, "error", err)
			return nil, err
		}

		c.mu.Lock()
		if gen >= c.valueGen {
			c.value = value
			c.valueGen = gen
			c.loadedAt = c.now()
			c.valid = c.gen == gen
		}
		c.mu.Unlock()

		slog.Debug("cache refreshed", "cache", c.name, "elapsed", c.now().Sub(start))
		return value, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("error refreshing %s: %w", c.name, res.Err)
		}
		return res.Val.(T), nil
	}
}
