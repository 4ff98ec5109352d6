package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string][]byte)}
}

func (p *memPersister) Load(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[key]
	return v, ok, nil
}

func (p *memPersister) Save(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = value
	return nil
}

func (p *memPersister) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

func TestCache_MutateSeesPrevious(t *testing.T) {
	ctx := context.Background()
	c := New[[]string](nil, nil)

	c.Mutate(ctx, "k", func(prev []string, ok bool) []string {
		assert.False(t, ok)
		return []string{"a"}
	})
	before, _ := c.Get(ctx, "k")

	after := c.Mutate(ctx, "k", func(prev []string, ok bool) []string {
		assert.True(t, ok)
		next := make([]string, 0, len(prev)+1)
		next = append(next, prev...)
		return append(next, "b")
	})

	assert.Equal(t, []string{"a"}, before)
	assert.Equal(t, []string{"a", "b"}, after)
}

func TestCache_UpdateOnlyExistingKeys(t *testing.T) {
	ctx := context.Background()
	c := New[int](nil, nil)

	_, changed := c.Update(ctx, "missing", func(prev int) (int, bool) {
		t.Error("fn must not run for a missing key")
		return prev + 1, true
	})
	assert.False(t, changed)
	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", 1)
	v, changed := c.Update(ctx, "k", func(prev int) (int, bool) { return prev + 1, false })
	assert.False(t, changed)
	assert.Equal(t, 1, v)

	v, changed = c.Update(ctx, "k", func(prev int) (int, bool) { return prev + 1, true })
	assert.True(t, changed)
	assert.Equal(t, 2, v)
}

func TestCache_RevalidateKeepsValueOnError(t *testing.T) {
	ctx := context.Background()
	c := New[int](nil, nil)
	c.Set(ctx, "k", 1)

	_, err := c.Revalidate(ctx, "k", func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, err = c.Revalidate(ctx, "k", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCache_RevalidateDeduplicates(t *testing.T) {
	ctx := context.Background()
	c := New[int](nil, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = c.Revalidate(ctx, "k", fetch)
	}()
	<-started
	assert.True(t, c.InFlight("k"))

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Revalidate(ctx, "k", fetch)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
	assert.False(t, c.InFlight("k"))
}

func TestCache_PersistedWarmStart(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()

	first := New[map[string]int](nil, p)
	first.Set(ctx, "k", map[string]int{"a": 1})

	second := New[map[string]int](nil, p)
	v, ok := second.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, v)

	second.Delete(ctx, "k")
	_, ok = New[map[string]int](nil, p).Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_UndecodablePersistedEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	require.NoError(t, p.Save(ctx, "k", []byte("{not json")))

	_, ok := New[map[string]int](nil, p).Get(ctx, "k")
	assert.False(t, ok)
}

func TestRequest_PropagatesError(t *testing.T) {
	f := NewFlights()
	_, err := Request(context.Background(), f, "page", func(context.Context) (string, error) {
		return "", errors.New("nope")
	})
	assert.EqualError(t, err, "nope")
	assert.False(t, f.InFlight("page"))
}
