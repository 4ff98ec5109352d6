package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/go-nats-chat-stream/cache"
	"github.com/karthikraju391/go-nats-chat-stream/fetcher"
	"github.com/karthikraju391/go-nats-chat-stream/models"
	"github.com/karthikraju391/go-nats-chat-stream/saved"
)

type fakeFetcher struct {
	mu      sync.Mutex
	windows map[string]fetcher.Window
	older   fetcher.OlderPage
	newer   fetcher.NewerPage
	err     error
	block   chan struct{}
	calls   map[string]int
	bases   []string
	from    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{windows: map[string]fetcher.Window{}, calls: map[string]int{}}
}

func (f *fakeFetcher) record(op, arg string) (chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if op == "messages" {
		f.bases = append(f.bases, arg)
	} else {
		f.from = append(f.from, arg)
	}
	return f.block, f.err
}

func (f *fakeFetcher) GetMessages(_ context.Context, _, baseMessage string) (fetcher.Window, error) {
	_, err := f.record("messages", baseMessage)
	if err != nil {
		return fetcher.Window{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows[baseMessage], nil
}

func (f *fakeFetcher) GetOlderMessages(_ context.Context, _, fromMessage string) (fetcher.OlderPage, error) {
	block, err := f.record("older", fromMessage)
	if block != nil {
		<-block
	}
	if err != nil {
		return fetcher.OlderPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.older, nil
}

func (f *fakeFetcher) GetNewerMessages(_ context.Context, _, fromMessage string, _ int) (fetcher.NewerPage, error) {
	_, err := f.record("newer", fromMessage)
	if err != nil {
		return fetcher.NewerPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newer, nil
}

func (f *fakeFetcher) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) on(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func msg(name, creation, owner string) models.Message {
	return models.Message{Name: name, ChannelID: channel, Creation: creation, Owner: owner, MessageType: models.MessageTypeText}
}

// shown lists the message names of a snapshot in display order.
func shown(s Snapshot) []string {
	var out []string
	for _, it := range s.Messages {
		if !it.IsDate() {
			out = append(out, it.Name())
		}
	}
	return out
}

func latestWindow() fetcher.Window {
	return fetcher.Window{
		Messages: []models.Message{
			msg("m3", "2024-01-02 10:02:00", "alice"),
			msg("m2", "2024-01-02 10:01:00", "alice"),
			msg("m1", "2024-01-02 10:00:00", "bob"),
		},
		HasOldMessages: true,
	}
}

func newTestController(t *testing.T, f *fakeFetcher, opts Options) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.OnChange = rec.on
	c := NewController(channel, "alice", f, cache.New[State](nil, nil), opts)
	t.Cleanup(c.Close)
	return c, rec
}

func TestController_LoadLatest(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	c, rec := newTestController(t, f, Options{})

	c.Load(context.Background(), "")

	snap := rec.last()
	assert.False(t, snap.IsLoading)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []string{"m1", "m2", "m3"}, shown(snap))
	assert.True(t, snap.Messages[0].IsDate())
	assert.True(t, snap.HasOldMessages)
	require.NotNil(t, snap.Scroll)
	assert.Equal(t, ScrollBottom, snap.Scroll.Kind)

	assert.True(t, rec.snaps[0].IsLoading, "loading is published before the fetch")
	assert.Nil(t, c.Snapshot().Scroll, "published directives are consumed")
}

func TestController_LoadBaseMessageHighlights(t *testing.T) {
	f := newFakeFetcher()
	w := latestWindow()
	w.HasNewMessages = true
	f.windows["m2"] = w
	c, rec := newTestController(t, f, Options{HighlightDuration: 20 * time.Millisecond})

	c.Load(context.Background(), "m2")

	snap := rec.last()
	assert.Equal(t, "m2", snap.BaseMessage)
	assert.Equal(t, "m2", snap.HighlightedMessage)
	require.NotNil(t, snap.Scroll)
	assert.Equal(t, ScrollMessage, snap.Scroll.Kind)
	assert.Equal(t, "m2", snap.Scroll.MessageID)

	assert.Eventually(t, func() bool {
		return rec.last().HighlightedMessage == ""
	}, time.Second, 5*time.Millisecond)
}

func TestController_LoadFailureKeepsState(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	c, rec := newTestController(t, f, Options{})
	c.Load(context.Background(), "")

	f.setErr(errors.New("upstream down"))
	c.Load(context.Background(), "")

	snap := rec.last()
	assert.False(t, snap.IsLoading)
	assert.Contains(t, snap.Error, "upstream down")
	assert.Equal(t, []string{"m1", "m2", "m3"}, shown(snap))
}

func TestController_StaleWhileRevalidate(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	shared := cache.New[State](nil, nil)

	first := NewController(channel, "alice", f, shared, Options{})
	first.Load(context.Background(), "")
	first.Close()

	rec := &recorder{}
	second := NewController(channel, "alice", f, shared, Options{OnChange: rec.on})
	defer second.Close()
	second.Load(context.Background(), "")

	require.GreaterOrEqual(t, rec.len(), 2)
	assert.True(t, rec.snaps[0].IsLoading)
	assert.Equal(t, []string{"m1", "m2", "m3"}, shown(rec.snaps[0]), "cached window shown while loading")
}

func TestController_LoadOlderAnchors(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	f.older = fetcher.OlderPage{
		Messages: []models.Message{
			msg("m0", "2024-01-01 09:00:00", "bob"),
		},
	}
	c, rec := newTestController(t, f, Options{})
	c.Load(context.Background(), "")

	c.LoadOlder(context.Background())

	snap := rec.last()
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, shown(snap))
	assert.False(t, snap.HasOldMessages)
	require.NotNil(t, snap.Scroll)
	assert.Equal(t, ScrollAnchor, snap.Scroll.Kind)
	assert.Equal(t, "m1", snap.Scroll.MessageID)
	assert.Equal(t, []string{"m1"}, f.from)

	c.LoadOlder(context.Background())
	assert.Equal(t, 1, f.count("older"), "no older history left")
}

func TestController_LoadOlderSuppressedWhileRunning(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	f.block = make(chan struct{})
	c, _ := newTestController(t, f, Options{})
	c.Load(context.Background(), "")

	done := make(chan struct{})
	go func() {
		c.LoadOlder(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool {
		return c.flights.InFlight("older")
	}, time.Second, time.Millisecond)

	c.LoadOlder(context.Background())
	close(f.block)
	<-done

	assert.Equal(t, 1, f.count("older"))
}

func TestController_LoadNewer(t *testing.T) {
	f := newFakeFetcher()
	w := latestWindow()
	w.HasNewMessages = true
	f.windows["m2"] = w
	f.newer = fetcher.NewerPage{
		Messages: []models.Message{
			msg("m5", "2024-01-02 10:04:00", "bob"),
			msg("m4", "2024-01-02 10:03:00", "bob"),
		},
	}
	c, rec := newTestController(t, f, Options{HighlightDuration: 20 * time.Millisecond})
	c.Load(context.Background(), "m2")

	c.LoadNewer(context.Background())
	assert.Zero(t, f.count("newer"), "suppressed while a message is highlighted")

	require.Eventually(t, func() bool {
		return c.Snapshot().HighlightedMessage == ""
	}, time.Second, 5*time.Millisecond)

	c.LoadNewer(context.Background())

	snap := rec.last()
	assert.Equal(t, 1, f.count("newer"))
	assert.Equal(t, []string{"m3"}, f.from)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, shown(snap))
	assert.False(t, snap.HasNewMessages)
	require.NotNil(t, snap.Scroll)
	assert.Equal(t, ScrollBottom, snap.Scroll.Kind)
	assert.True(t, snap.Scroll.Smooth)
}

func TestController_ScrollToMessage(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	f.windows["m-old"] = fetcher.Window{
		Messages:       []models.Message{msg("m-old", "2023-12-01 08:00:00", "bob")},
		HasOldMessages: true,
		HasNewMessages: true,
	}
	c, rec := newTestController(t, f, Options{HighlightDuration: time.Hour})
	c.Load(context.Background(), "")

	c.ScrollToMessage(context.Background(), "m1")
	snap := rec.last()
	assert.Equal(t, "m1", snap.HighlightedMessage)
	require.NotNil(t, snap.Scroll)
	assert.Equal(t, ScrollMessage, snap.Scroll.Kind)
	assert.Equal(t, 1, f.count("messages"), "held messages need no fetch")

	c.ScrollToMessage(context.Background(), "m-old")
	snap = rec.last()
	assert.Equal(t, []string{"", "m-old"}, f.bases)
	assert.Equal(t, "m-old", snap.BaseMessage)
	assert.Equal(t, "m-old", snap.HighlightedMessage)
	assert.Equal(t, []string{"m-old"}, shown(snap))

	c.GoToLatestMessages(context.Background())
	snap = rec.last()
	assert.Empty(t, snap.BaseMessage)
	assert.Empty(t, snap.HighlightedMessage)
	assert.Equal(t, []string{"m1", "m2", "m3"}, shown(snap))
}

func TestController_CreatedEventScroll(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	c, rec := newTestController(t, f, Options{})
	c.Load(context.Background(), "")
	c.SetAtBottom(false)

	c.HandleEvent(context.Background(), createdEvent(t, msg("m4", "2024-01-02 10:03:00", "bob")))
	snap := rec.last()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, shown(snap))
	assert.Nil(t, snap.Scroll, "someone else's message does not move a scrolled-up view")

	c.HandleEvent(context.Background(), createdEvent(t, msg("m5", "2024-01-02 10:04:00", "alice")))
	snap = rec.last()
	require.NotNil(t, snap.Scroll)
	assert.Equal(t, ScrollBottom, snap.Scroll.Kind)

	c.HandleEvent(context.Background(), createdEvent(t, msg("m6", "2024-01-02 10:05:00", "bob")))
	snap = rec.last()
	require.NotNil(t, snap.Scroll, "views at the bottom follow new messages")
	assert.Equal(t, ScrollBottom, snap.Scroll.Kind)
}

func TestController_EventsIgnoredWhenNotApplicable(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	c, rec := newTestController(t, f, Options{})
	c.Load(context.Background(), "")
	n := rec.len()

	c.HandleEvent(context.Background(), models.Event{Type: models.EventMessageDeleted, ChannelID: channel, MessageID: "ghost"})
	c.HandleEvent(context.Background(), models.Event{Type: models.EventMessageDeleted, ChannelID: "random", MessageID: "m1"})

	assert.Equal(t, n, rec.len())
}

func TestController_SavedAndPinned(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	store := saved.NewStore("alice")
	c, rec := newTestController(t, f, Options{Saved: store})
	c.Load(context.Background(), "")

	c.HandleEvent(context.Background(), models.Event{
		Type:      models.EventMessageSaved,
		ChannelID: channel,
		MessageID: "m2",
		LikedBy:   `["alice"]`,
	})
	assert.True(t, store.IsSaved("m2"))

	c.HandleEvent(context.Background(), models.Event{
		Type:                 models.EventPinnedMessagesUpdated,
		ChannelID:            channel,
		PinnedMessagesString: "m2\n",
	})
	snap := rec.last()
	for _, it := range snap.Messages {
		if it.IsDate() {
			continue
		}
		want := 0
		if it.Name() == "m2" {
			want = 1
			assert.Equal(t, `["alice"]`, it.Message.LikedBy)
		}
		assert.Equal(t, want, it.Message.IsPinned, it.Name())
	}
}

func TestController_CloseStopsPublishing(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	c, rec := newTestController(t, f, Options{})
	c.Load(context.Background(), "")
	n := rec.len()

	c.Close()
	c.HandleEvent(context.Background(), createdEvent(t, msg("m4", "2024-01-02 10:03:00", "alice")))
	c.Load(context.Background(), "")
	c.SetPinnedMessages("m1")

	assert.Equal(t, n, rec.len())
}

func TestController_ViewsOwnTheirLists(t *testing.T) {
	f := newFakeFetcher()
	f.windows[""] = latestWindow()
	f.older = fetcher.OlderPage{
		Messages: []models.Message{msg("m0", "2024-01-01 09:00:00", "bob")},
	}
	shared := cache.New[State](nil, nil)
	ctx := context.Background()

	recA, recB := &recorder{}, &recorder{}
	a := NewController(channel, "alice", f, shared, Options{OnChange: recA.on})
	b := NewController(channel, "bob", f, shared, Options{OnChange: recB.on})
	defer a.Close()
	defer b.Close()

	a.Load(ctx, "")
	a.LoadOlder(ctx)
	require.Equal(t, []string{"m0", "m1", "m2", "m3"}, shown(a.Snapshot()))

	b.Load(ctx, "")
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, shown(a.Snapshot()), "another view loading keeps older pages")
	assert.Equal(t, []string{"m1", "m2", "m3"}, shown(b.Snapshot()))

	n := recA.len()
	b.LoadOlder(ctx)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, shown(b.Snapshot()))
	assert.Equal(t, n, recA.len(), "another view paginating publishes nothing here")

	shared.Set(ctx, CacheKey(channel, ""), FromWindow(fetcher.Window{Messages: []models.Message{msg("m9", "2024-01-03 10:00:00", "bob")}}))
	ev := models.Event{Type: models.EventMessageDeleted, ChannelID: channel, MessageID: "m2"}
	a.HandleEvent(ctx, ev)
	b.HandleEvent(ctx, ev)

	assert.Equal(t, []string{"m0", "m1", "m3"}, shown(recA.last()))
	assert.Equal(t, []string{"m0", "m1", "m3"}, shown(recB.last()))
}
