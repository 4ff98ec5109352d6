package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
	"github.com/karthikraju391/go-nats-chat-stream/models"
	"github.com/karthikraju391/go-nats-chat-stream/normalizer"
	"github.com/karthikraju391/go-nats-chat-stream/stream"
)

// MessagesResponse is a one-shot normalized window.
type MessagesResponse struct {
	ChannelID      string               `json:"channel_id"`
	BaseMessage    string               `json:"base_message,omitempty"`
	Messages       []models.DisplayItem `json:"messages"`
	HasOldMessages bool                 `json:"has_old_messages"`
	HasNewMessages bool                 `json:"has_new_messages"`
}

// GetMessages returns the display sequence of the window centered on the
// base_message query parameter, or on the latest message. The fetched window
// also refreshes the cache that sessions read from.
func (h *Handler) GetMessages(c *fiber.Ctx) error {
	channelID := c.Params("channelID")
	base := c.Query("base_message")

	st, err := h.cache.Revalidate(c.UserContext(), stream.CacheKey(channelID, base), func(ctx context.Context) (stream.State, error) {
		w, err := h.fetcher.GetMessages(ctx, channelID, base)
		if err != nil {
			return stream.State{}, err
		}
		return stream.FromWindow(w).Revise(), nil
	})
	if err != nil {
		h.log.Warn("Failed to fetch messages", "channel_id", channelID, "base_message", base, "error", err)
		return h.errorResponse(c, err)
	}

	return c.JSON(MessagesResponse{
		ChannelID:      channelID,
		BaseMessage:    base,
		Messages:       normalizer.Normalize(st.Messages, c.Query("pinned")),
		HasOldMessages: st.HasOldMessages,
		HasNewMessages: st.HasNewMessages,
	})
}

// PostEvent validates an event pushed by the chat backend and publishes it to
// every gateway.
func (h *Handler) PostEvent(c *fiber.Ctx) error {
	if h.publisher == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "event publishing is not configured")
	}

	var ev models.Event
	if err := json.Unmarshal(c.Body(), &ev); err != nil {
		return h.errorResponse(c, apperrors.NewValidationError("malformed event", err))
	}
	if err := ev.Validate(); err != nil {
		return h.errorResponse(c, err)
	}
	if err := h.publisher.PublishEvent(c.UserContext(), ev); err != nil {
		h.log.Error("Failed to publish event", "channel_id", ev.ChannelID, "event", ev.Type, "error", err)
		return h.errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// Health reports whether the gateway and its event transport are up.
func (h *Handler) Health(c *fiber.Ctx) error {
	if hc, ok := h.publisher.(HealthChecker); ok && !hc.Healthy() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
		"code":  apperrors.Code(err),
	})
}

func errorStatus(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch apperrors.Code(err) {
	case apperrors.CodeValidation:
		return fiber.StatusBadRequest
	case apperrors.CodeFetch, apperrors.CodeTransport:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
