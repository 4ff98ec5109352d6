// Package stream keeps one channel view's message list consistent with the
// server: windowed fetches, pagination in both directions, real-time events and
// scroll/highlight bookkeeping. State transitions live in reducer.go. Each
// Controller owns its raw list; the shared cache only holds the last fetched
// window of a channel, shown while a view loads.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karthikraju391/go-nats-chat-stream/cache"
	"github.com/karthikraju391/go-nats-chat-stream/fetcher"
	"github.com/karthikraju391/go-nats-chat-stream/metrics"
	"github.com/karthikraju391/go-nats-chat-stream/models"
	"github.com/karthikraju391/go-nats-chat-stream/normalizer"
	"github.com/karthikraju391/go-nats-chat-stream/saved"
)

const (
	DefaultHighlightDuration = 4 * time.Second
	DefaultNewerPageSize     = 20
)

var revisions atomic.Uint64

func nextRev() uint64 {
	return revisions.Add(1)
}

// CacheKey returns the cache key of a channel window, centered on baseMessage
// when it is set.
func CacheKey(channelID, baseMessage string) string {
	if baseMessage == "" {
		return "messages:" + channelID
	}
	return "messages:" + channelID + "@" + baseMessage
}

// Snapshot is what a view renders
type Snapshot struct {
	ChannelID          string               `json:"channel_id"`
	BaseMessage        string               `json:"base_message,omitempty"`
	Messages           []models.DisplayItem `json:"messages"`
	HasOldMessages     bool                 `json:"has_old_messages"`
	HasNewMessages     bool                 `json:"has_new_messages"`
	IsLoading          bool                 `json:"is_loading"`
	Error              string               `json:"error,omitempty"`
	HighlightedMessage string               `json:"highlighted_message,omitempty"`
	Scroll             *ScrollDirective     `json:"scroll,omitempty"`
}

// Options tune a Controller
type Options struct {
	HighlightDuration time.Duration
	NewerPageSize     int
	Logger            *slog.Logger
	// Saved receives message_saved events; optional.
	Saved *saved.Store
	// OnChange is called with a fresh snapshot after every visible change.
	// It must not block or call back into the controller.
	OnChange func(Snapshot)
}

// Controller owns the raw list of one channel view.
type Controller struct {
	channelID string
	user      string
	fetcher   fetcher.Fetcher
	cache     *cache.Cache[State]
	opts      Options
	log       *slog.Logger

	pubMu   sync.Mutex // orders OnChange calls
	flights *cache.Flights

	mu           sync.Mutex
	state        State
	key          string
	baseMessage  string
	pinned       string
	memo         normalizer.Memo
	loading      bool
	err          error
	highlighted  string
	highlightGen uint64
	highlightT   *time.Timer
	vp           viewport
	closed       bool
}

// NewController creates the controller for channelID as seen by user. Call
// Load to fetch the first window.
func NewController(channelID, user string, f fetcher.Fetcher, c *cache.Cache[State], opts Options) *Controller {
	if opts.HighlightDuration <= 0 {
		opts.HighlightDuration = DefaultHighlightDuration
	}
	if opts.NewerPageSize <= 0 {
		opts.NewerPageSize = DefaultNewerPageSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	metrics.ActiveStreams.Inc()
	return &Controller{
		channelID: channelID,
		user:      user,
		fetcher:   f,
		cache:     c,
		opts:      opts,
		log:       log.With("component", "stream", "channel_id", channelID),
		flights:   cache.NewFlights(),
		key:       CacheKey(channelID, ""),
		loading:   true,
	}
}

// ChannelID returns the channel this controller follows.
func (c *Controller) ChannelID() string {
	return c.channelID
}

// Load fetches the window centered on baseMessage, or on the latest message
// when baseMessage is empty, and replaces the raw list with it. Until the fetch
// returns, a view switching windows shows the cached copy of the new window.
// On failure the previous state is kept and the error is exposed in the
// snapshot.
func (c *Controller) Load(ctx context.Context, baseMessage string) {
	key := CacheKey(c.channelID, baseMessage)
	cached, hit := c.cache.Get(ctx, key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if key != c.key || len(c.state.Messages) == 0 {
		c.key = key
		c.memo.Reset()
		c.state = State{}
		if hit {
			c.state = cached
		}
	}
	c.baseMessage = baseMessage
	c.loading = true
	c.err = nil
	c.mu.Unlock()
	c.publish()

	st, err := c.cache.Revalidate(ctx, key, func(ctx context.Context) (State, error) {
		w, err := c.fetcher.GetMessages(ctx, c.channelID, baseMessage)
		if err != nil {
			return State{}, err
		}
		return FromWindow(w).Revise(), nil
	})

	c.mu.Lock()
	if c.closed || c.key != key {
		// Superseded by a later load.
		c.mu.Unlock()
		return
	}
	c.loading = false
	if err != nil {
		c.err = err
		c.mu.Unlock()
		metrics.FetchesTotal.WithLabelValues("get_messages", metrics.ResultError).Inc()
		c.log.Warn("Failed to load messages", "base_message", baseMessage, "error", err)
		c.publish()
		return
	}
	metrics.FetchesTotal.WithLabelValues("get_messages", metrics.ResultOK).Inc()

	c.state = st
	if c.opts.Saved != nil {
		c.opts.Saved.Seed(st.Messages)
	}
	switch {
	case baseMessage != "":
		c.vp.scroll(ScrollMessage, baseMessage, false)
		c.highlightLocked(baseMessage)
	case !st.HasNewMessages:
		c.vp.scroll(ScrollBottom, "", false)
	}
	c.mu.Unlock()

	c.log.Debug("Loaded messages", "base_message", baseMessage, "count", len(st.Messages))
	c.publish()
}

// LoadOlder fetches the page before the oldest message held. It does nothing
// when there is no older history or an older page is already being fetched.
func (c *Controller) LoadOlder(ctx context.Context) {
	c.mu.Lock()
	if c.closed || !c.state.HasOldMessages || len(c.state.Messages) == 0 {
		c.mu.Unlock()
		return
	}
	key, anchor := c.key, c.state.Oldest()
	c.mu.Unlock()

	if c.flights.InFlight("older") {
		metrics.PaginationSuppressed.WithLabelValues("older").Inc()
		return
	}
	page, err := cache.Request(ctx, c.flights, "older", func(ctx context.Context) (fetcher.OlderPage, error) {
		return c.fetcher.GetOlderMessages(ctx, c.channelID, anchor)
	})
	if err != nil {
		metrics.FetchesTotal.WithLabelValues("get_older_messages", metrics.ResultError).Inc()
		c.log.Warn("Failed to load older messages", "from_message", anchor, "error", err)
		return
	}
	metrics.FetchesTotal.WithLabelValues("get_older_messages", metrics.ResultOK).Inc()

	c.mu.Lock()
	if c.closed || c.key != key {
		c.mu.Unlock()
		return
	}
	c.state = AppendOlder(c.state, page).Revise()
	c.vp.scroll(ScrollAnchor, anchor, false)
	c.mu.Unlock()
	c.publish()
}

// LoadNewer fetches the page after the newest message held. It does nothing
// while a highlighted message is being shown, when there is no newer history
// or when a newer page is already being fetched.
func (c *Controller) LoadNewer(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.highlighted != "" || !c.state.HasNewMessages || len(c.state.Messages) == 0 {
		c.mu.Unlock()
		return
	}
	key, from := c.key, c.state.Newest()
	c.mu.Unlock()

	if c.flights.InFlight("newer") {
		metrics.PaginationSuppressed.WithLabelValues("newer").Inc()
		return
	}
	page, err := cache.Request(ctx, c.flights, "newer", func(ctx context.Context) (fetcher.NewerPage, error) {
		return c.fetcher.GetNewerMessages(ctx, c.channelID, from, c.opts.NewerPageSize)
	})
	if err != nil {
		metrics.FetchesTotal.WithLabelValues("get_newer_messages", metrics.ResultError).Inc()
		c.log.Warn("Failed to load newer messages", "from_message", from, "error", err)
		return
	}
	metrics.FetchesTotal.WithLabelValues("get_newer_messages", metrics.ResultOK).Inc()

	c.mu.Lock()
	if c.closed || c.key != key {
		c.mu.Unlock()
		return
	}
	c.state = PrependNewer(c.state, page).Revise()
	if !c.state.HasNewMessages {
		c.vp.scroll(ScrollBottom, "", true)
	}
	c.mu.Unlock()
	c.publish()
}

// ScrollToMessage brings messageID into view and highlights it. When the
// message is not held, the window is re-fetched around it.
func (c *Controller) ScrollToMessage(ctx context.Context, messageID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state.Index(messageID) >= 0 {
		c.vp.scroll(ScrollMessage, messageID, false)
		c.highlightLocked(messageID)
		c.mu.Unlock()
		c.publish()
		return
	}
	c.mu.Unlock()
	c.Load(ctx, messageID)
}

// GoToLatestMessages leaves base-message mode and shows the latest window.
func (c *Controller) GoToLatestMessages(ctx context.Context) {
	c.mu.Lock()
	c.clearHighlightLocked()
	c.mu.Unlock()
	c.Load(ctx, "")
}

// HandleEvent applies a real-time event to the raw list.
func (c *Controller) HandleEvent(ctx context.Context, ev models.Event) {
	if ev.ChannelID != c.channelID {
		return
	}

	switch ev.Type {
	case models.EventPinnedMessagesUpdated:
		c.SetPinnedMessages(ev.PinnedMessagesString)
		return
	case models.EventMessageSaved:
		if c.opts.Saved != nil {
			c.opts.Saved.Apply(ev.MessageID, ev.LikedBy)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	next, changed := ApplyEvent(c.state, ev, c.channelID)
	if !changed {
		c.mu.Unlock()
		metrics.EventsTotal.WithLabelValues(string(ev.Type), metrics.ResultIgnored).Inc()
		return
	}
	c.state = next.Revise()
	if ev.Type == models.EventMessageCreated {
		m, _ := ev.Message()
		if c.vp.atBottom || m.Owner == c.user {
			c.vp.scroll(ScrollBottom, "", false)
		}
	}
	c.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(ev.Type), metrics.ResultApplied).Inc()
	c.publish()
}

// SetAtBottom records whether the view is scrolled to the newest message.
func (c *Controller) SetAtBottom(atBottom bool) {
	c.mu.Lock()
	c.vp.atBottom = atBottom
	c.mu.Unlock()
}

// SetPinnedMessages replaces the newline-delimited pinned identifiers.
func (c *Controller) SetPinnedMessages(pinned string) {
	c.mu.Lock()
	if c.pinned == pinned {
		c.mu.Unlock()
		return
	}
	c.pinned = pinned
	c.mu.Unlock()
	c.publish()
}

// Snapshot returns the current rendering state. A pending scroll directive
// is included but not consumed.
func (c *Controller) Snapshot() Snapshot {
	snap, _ := c.snapshot(false)
	return snap
}

// Close stops the controller. No snapshots are published afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.clearHighlightLocked()
	metrics.ActiveStreams.Dec()
}

func (c *Controller) highlightLocked(messageID string) {
	c.clearHighlightLocked()
	c.highlighted = messageID
	gen := c.highlightGen
	c.highlightT = time.AfterFunc(c.opts.HighlightDuration, func() {
		c.mu.Lock()
		if c.closed || c.highlightGen != gen {
			c.mu.Unlock()
			return
		}
		c.highlighted = ""
		c.highlightT = nil
		c.mu.Unlock()
		c.publish()
	})
}

func (c *Controller) clearHighlightLocked() {
	c.highlightGen++
	c.highlighted = ""
	if c.highlightT != nil {
		c.highlightT.Stop()
		c.highlightT = nil
	}
}

func (c *Controller) snapshot(consume bool) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state
	var items []models.DisplayItem
	if st.Rev == 0 {
		// Persisted or missing state has no revision to memoize on.
		items = normalizer.Normalize(st.Messages, c.pinned)
	} else {
		items = c.memo.Normalize(st.Rev, st.Messages, c.pinned)
	}
	snap := Snapshot{
		ChannelID:          c.channelID,
		BaseMessage:        c.baseMessage,
		Messages:           items,
		HasOldMessages:     st.HasOldMessages,
		HasNewMessages:     st.HasNewMessages,
		IsLoading:          c.loading,
		HighlightedMessage: c.highlighted,
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	if consume {
		snap.Scroll = c.vp.take()
	} else if c.vp.pending != nil {
		d := *c.vp.pending
		snap.Scroll = &d
	}
	return snap, !c.closed
}

func (c *Controller) publish() {
	if c.opts.OnChange == nil {
		return
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	snap, open := c.snapshot(true)
	if !open {
		return
	}
	c.opts.OnChange(snap)
}
