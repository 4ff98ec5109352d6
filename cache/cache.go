// Package cache is a key-addressed store of server responses. It supports
// revalidation with request deduplication, in-flight tracking per key and
// copy-on-write updates through Mutate. An optional Persister keeps the last
// known value of each key across restarts so views can show stale data while
// they revalidate.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Persister stores encoded cache values.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Cache holds values of type T by key.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]T

	flights *Flights
	persist Persister
	log     *slog.Logger
}

// New creates a cache. persist may be nil for a memory-only cache.
func New[T any](log *slog.Logger, persist Persister) *Cache[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Cache[T]{
		entries: make(map[string]T),
		flights: NewFlights(),
		persist: persist,
		log:     log.With("component", "cache"),
	}
}

// Get returns the value for key. On a memory miss it falls back to the
// persister; a persisted value is kept in memory but not revalidated.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || c.persist == nil {
		return v, ok
	}

	data, found, err := c.persist.Load(ctx, key)
	if err != nil {
		c.log.Warn("Failed to load persisted entry", "key", key, "error", err)
		return v, false
	}
	if !found {
		return v, false
	}
	var decoded T
	if err := json.Unmarshal(data, &decoded); err != nil {
		c.log.Warn("Dropping undecodable persisted entry", "key", key, "error", err)
		return v, false
	}

	c.mu.Lock()
	// A concurrent Set wins over the persisted copy.
	if cur, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return cur, true
	}
	c.entries[key] = decoded
	c.mu.Unlock()
	return decoded, true
}

// Set replaces the value for key.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) {
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	c.save(ctx, key, v)
}

// Mutate replaces the value for key with fn(prev). fn receives the previous
// value and whether it existed; it must return a new value rather than modify
// prev in place. Updates for one key are serialized.
func (c *Cache[T]) Mutate(ctx context.Context, key string, fn func(prev T, ok bool) T) T {
	c.mu.Lock()
	prev, ok := c.entries[key]
	next := fn(prev, ok)
	c.entries[key] = next
	c.mu.Unlock()
	c.save(ctx, key, next)
	return next
}

// Update is Mutate for existing keys only: fn is not called when key is
// absent, and its result is stored only when it reports a change.
func (c *Cache[T]) Update(ctx context.Context, key string, fn func(prev T) (T, bool)) (T, bool) {
	c.mu.Lock()
	prev, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return prev, false
	}
	next, changed := fn(prev)
	if !changed {
		c.mu.Unlock()
		return prev, false
	}
	c.entries[key] = next
	c.mu.Unlock()
	c.save(ctx, key, next)
	return next, true
}

// Delete drops key from memory and from the persister.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.persist == nil {
		return
	}
	if err := c.persist.Delete(ctx, key); err != nil {
		c.log.Warn("Failed to delete persisted entry", "key", key, "error", err)
	}
}

// Revalidate fetches a fresh value for key and stores it. Concurrent calls
// for the same key share one fetch. On error the cached value is untouched.
func (c *Cache[T]) Revalidate(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	v, err := Request(ctx, c.flights, key, fetch)
	if err != nil {
		return v, err
	}
	c.Set(ctx, key, v)
	return v, nil
}

// InFlight reports whether a request for key is running.
func (c *Cache[T]) InFlight(key string) bool {
	return c.flights.InFlight(key)
}

func (c *Cache[T]) save(ctx context.Context, key string, v T) {
	if c.persist == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("Failed to encode entry", "key", key, "error", err)
		return
	}
	if err := c.persist.Save(ctx, key, data); err != nil {
		c.log.Warn("Failed to persist entry", "key", key, "error", err)
	}
}

// Flights deduplicates concurrent requests by key and records which keys have
// a request running.
type Flights struct {
	group singleflight.Group

	mu      sync.Mutex
	running map[string]int
}

func NewFlights() *Flights {
	return &Flights{running: make(map[string]int)}
}

// InFlight reports whether a request for key is running.
func (f *Flights) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[key] > 0
}

func (f *Flights) begin(key string) {
	f.mu.Lock()
	f.running[key]++
	f.mu.Unlock()
}

func (f *Flights) end(key string) {
	f.mu.Lock()
	if f.running[key] <= 1 {
		delete(f.running, key)
	} else {
		f.running[key]--
	}
	f.mu.Unlock()
}

// Request runs fn under key. Callers arriving while a request for key is
// running wait for and share its result.
func Request[R any](ctx context.Context, f *Flights, key string, fn func(context.Context) (R, error)) (R, error) {
	v, err, _ := f.group.Do(key, func() (any, error) {
		f.begin(key)
		defer f.end(key)
		return fn(ctx)
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return v.(R), nil
}
