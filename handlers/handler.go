package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/karthikraju391/go-nats-chat-stream/cache"
	"github.com/karthikraju391/go-nats-chat-stream/config"
	"github.com/karthikraju391/go-nats-chat-stream/fetcher"
	"github.com/karthikraju391/go-nats-chat-stream/models"
	"github.com/karthikraju391/go-nats-chat-stream/stream"
)

// EventSubscriber delivers the real-time events of one channel.
type EventSubscriber interface {
	SubscribeToChannel(ctx context.Context, channelID string, handler func(ev *models.Event)) (jetstream.ConsumeContext, error)
}

// EventPublisher fans an event out to every gateway.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// HealthChecker is implemented by dependencies that can report liveness.
type HealthChecker interface {
	Healthy() bool
}

type Options struct {
	Server            config.ServerConfig
	HighlightDuration time.Duration
	NewerPageSize     int
	Logger            *slog.Logger
}

// Handler serves channel-view sessions and the REST API.
type Handler struct {
	fetcher   fetcher.Fetcher
	cache     *cache.Cache[stream.State]
	events    EventSubscriber
	publisher EventPublisher
	opts      Options
	validate  *validator.Validate
	log       *slog.Logger
}

func New(f fetcher.Fetcher, c *cache.Cache[stream.State], events EventSubscriber, publisher EventPublisher, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Server.PingPeriod <= 0 {
		opts.Server = config.ServerConfig{
			MaxMessageSize: config.DefaultMaxMessageSize,
			WriteWait:      config.DefaultWriteWait,
			PongWait:       config.DefaultPongWait,
			PingPeriod:     config.DefaultPingPeriod,
		}
	}
	return &Handler{
		fetcher:   f,
		cache:     c,
		events:    events,
		publisher: publisher,
		opts:      opts,
		validate:  validator.New(),
		log:       log.With("component", "handlers"),
	}
}

// Register mounts every route on app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/healthz", h.Health)

	api := app.Group("/api")
	api.Get("/channels/:channelID/messages", h.checkChannel, h.GetMessages)
	api.Post("/events", h.PostEvent)

	app.Use("/chat", func(c *fiber.Ctx) error {
		// Check if the request is a WebSocket upgrade request
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/chat/:channelID", h.checkChannel, websocket.New(h.HandleWebSocket))
}

// checkChannel rejects channel ids that cannot name an event subject.
func (h *Handler) checkChannel(c *fiber.Ctx) error {
	if err := models.ValidateChannelID(c.Params("channelID")); err != nil {
		return h.errorResponse(c, err)
	}
	return c.Next()
}
