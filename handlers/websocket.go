package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
	"github.com/karthikraju391/go-nats-chat-stream/config"
	"github.com/karthikraju391/go-nats-chat-stream/metrics"
	"github.com/karthikraju391/go-nats-chat-stream/models"
	"github.com/karthikraju391/go-nats-chat-stream/saved"
	"github.com/karthikraju391/go-nats-chat-stream/stream"
)

// Command actions accepted from the client.
const (
	ActionLoadOlder       = "load_older"
	ActionLoadNewer       = "load_newer"
	ActionScrollToMessage = "scroll_to_message"
	ActionGoToLatest      = "go_to_latest"
	ActionViewport        = "viewport"
	ActionSetPinned       = "set_pinned"
)

// Command is one request read from the websocket
type Command struct {
	Action    string `json:"action"     validate:"required,oneof=load_older load_newer scroll_to_message go_to_latest viewport set_pinned"`
	MessageID string `json:"message_id" validate:"required_if=Action scroll_to_message"`
	AtBottom  bool   `json:"at_bottom"`
	Pinned    string `json:"pinned"`
}

// UserHeader carries the authenticated user id set by the fronting proxy.
const UserHeader = "X-User-ID"

type Client struct {
	Conn      *websocket.Conn
	Server    config.ServerConfig
	SessionID string
	ChannelID string
	UserID    string
	Log       *slog.Logger

	snapshots *latest[stream.Snapshot]
	saved     *latest[[]string]
	errs      chan string
	DoneChan  chan struct{} // Channel to signal closure
}

func NewClient(conn *websocket.Conn, server config.ServerConfig, channelID, userID string, log *slog.Logger) *Client {
	sessionID := uuid.NewString()
	return &Client{
		Conn:      conn,
		Server:    server,
		SessionID: sessionID,
		ChannelID: channelID,
		UserID:    userID,
		Log:       log.With("session_id", sessionID, "channel_id", channelID, "user_id", userID),
		snapshots: newLatest(mergeSnapshots),
		saved:     newLatest[[]string](nil),
		errs:      make(chan string, 16),
		DoneChan:  make(chan struct{}),
	}
}

// SendError queues an error frame; it is dropped when the queue is full.
func (c *Client) SendError(msg string) {
	select {
	case c.errs <- msg:
	default:
		c.Log.Warn("Dropping error frame, queue full", "error", msg)
	}
}

// HandleRead reads commands from the WebSocket connection and hands them to
// run. Errors returned by run are sent back as error frames.
func (c *Client) HandleRead(run func(Command) error) {
	defer func() {
		c.Log.Debug("Reader closed")
		close(c.DoneChan) // Signal writer to stop
	}()
	c.Conn.SetReadLimit(c.Server.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Server.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Server.PongWait))
		return nil
	})

	for {
		var cmd Command
		if err := c.Conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn("WebSocket read error", "error", err)
			} else {
				c.Log.Debug("WebSocket closed", "error", err)
			}
			return
		}
		if err := run(cmd); err != nil {
			c.SendError(err.Error())
		}
	}
}

// HandleWrite writes snapshots, saved-message lists and errors to the
// WebSocket connection and keeps it alive with pings.
func (c *Client) HandleWrite() {
	ticker := time.NewTicker(c.Server.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Log.Debug("Writer closed")
	}()

	for {
		var frame Frame
		select {
		case <-c.snapshots.ready:
			snap, ok := c.snapshots.take()
			if !ok {
				continue
			}
			frame = Frame{Type: FrameSnapshot, Data: snap}

		case <-c.saved.ready:
			ids, ok := c.saved.take()
			if !ok {
				continue
			}
			frame = Frame{Type: FrameSaved, Data: ids}

		case msg := <-c.errs:
			frame = Frame{Type: FrameError, Data: msg}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Server.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Log.Debug("WebSocket ping error", "error", err)
				return
			}
			continue

		case <-c.DoneChan:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Server.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		c.Conn.SetWriteDeadline(time.Now().Add(c.Server.WriteWait))
		if err := c.Conn.WriteJSON(frame); err != nil {
			c.Log.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

// HandleWebSocket manages the lifecycle of one channel-view session.
func (h *Handler) HandleWebSocket(conn *websocket.Conn) {
	channelID := conn.Params("channelID")
	if channelID == "" {
		conn.WriteJSON(Frame{Type: FrameError, Data: "missing channelID"})
		conn.Close()
		metrics.SessionsTotal.WithLabelValues("rejected").Inc()
		return
	}
	userID := conn.Headers(UserHeader)
	if userID == "" {
		userID = conn.Query("user")
	}
	if userID == "" {
		userID = "guest_" + uuid.NewString()[:6]
	}

	client := NewClient(conn, h.opts.Server, channelID, userID, h.log)
	client.Log.Info("Client connected")

	store := saved.NewStore(userID)
	ctrl := stream.NewController(channelID, userID, h.fetcher, h.cache, stream.Options{
		HighlightDuration: h.opts.HighlightDuration,
		NewerPageSize:     h.opts.NewerPageSize,
		Logger:            client.Log,
		Saved:             store,
		OnChange:          client.snapshots.put,
	})
	unsubscribe := store.Subscribe(client.saved.put)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	consumeCtx, err := h.events.SubscribeToChannel(ctx, channelID, func(ev *models.Event) {
		// Runs on the NATS delivery goroutine.
		ctrl.HandleEvent(ctx, *ev)
	})
	if err != nil {
		client.Log.Error("Failed to subscribe to channel events", "error", err)
		conn.WriteJSON(Frame{Type: FrameError, Data: "event subscription failed"})
		unsubscribe()
		ctrl.Close()
		cancel()
		conn.Close()
		metrics.SessionsTotal.WithLabelValues("subscribe_error").Inc()
		return
	}

	writerDone := make(chan struct{})
	defer func() {
		client.Log.Info("Cleaning up session")
		consumeCtx.Stop()
		cancel()
		wg.Wait()
		unsubscribe()
		ctrl.Close()
		// The conn goes back to the websocket pool once this handler returns.
		<-writerDone
		conn.Close()
		metrics.SessionsTotal.WithLabelValues("closed").Inc()
	}()

	go func() {
		defer close(writerDone)
		client.HandleWrite()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctrl.Load(ctx, conn.Query("base_message"))
	}()

	client.HandleRead(func(cmd Command) error {
		return h.runCommand(ctx, ctrl, &wg, cmd)
	})
}

// runCommand validates cmd and applies it to ctrl. Viewport and pin updates
// are applied inline. Commands that fetch run on their own goroutine tracked
// by wg, so a pagination request arriving mid-flight reaches the controller
// and is suppressed there.
func (h *Handler) runCommand(ctx context.Context, ctrl *stream.Controller, wg *sync.WaitGroup, cmd Command) error {
	if err := h.validate.Struct(cmd); err != nil {
		return apperrors.NewValidationError("invalid command", err)
	}

	var op func()
	switch cmd.Action {
	case ActionViewport:
		ctrl.SetAtBottom(cmd.AtBottom)
		return nil
	case ActionSetPinned:
		ctrl.SetPinnedMessages(cmd.Pinned)
		return nil
	case ActionLoadOlder:
		op = func() { ctrl.LoadOlder(ctx) }
	case ActionLoadNewer:
		op = func() { ctrl.LoadNewer(ctx) }
	case ActionScrollToMessage:
		op = func() { ctrl.ScrollToMessage(ctx, cmd.MessageID) }
	case ActionGoToLatest:
		op = func() { ctrl.GoToLatestMessages(ctx) }
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		op()
	}()
	return nil
}
