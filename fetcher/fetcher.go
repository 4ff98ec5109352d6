// Package fetcher talks to the chat backend for message history.
package fetcher

import (
	"context"

	"github.com/karthikraju391/go-nats-chat-stream/models"
)

// Window is a page of messages centered on the latest message or on a base
// message. Messages are newest-first.
type Window struct {
	Messages       []models.Message `json:"messages"`
	HasOldMessages bool             `json:"has_old_messages"`
	HasNewMessages bool             `json:"has_new_messages"`
}

// OlderPage holds messages strictly older than the requested one, newest-first.
type OlderPage struct {
	Messages       []models.Message `json:"messages"`
	HasOldMessages bool             `json:"has_old_messages"`
}

// NewerPage holds messages strictly newer than the requested one, newest-first.
type NewerPage struct {
	Messages       []models.Message `json:"messages"`
	HasNewMessages bool             `json:"has_new_messages"`
}

// Fetcher is the history side of the chat backend.
type Fetcher interface {
	GetMessages(ctx context.Context, channelID, baseMessage string) (Window, error)
	GetOlderMessages(ctx context.Context, channelID, fromMessage string) (OlderPage, error)
	GetNewerMessages(ctx context.Context, channelID, fromMessage string, limit int) (NewerPage, error)
}
