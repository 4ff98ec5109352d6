package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
)

// EventType names a real-time channel event
type EventType string

const (
	EventMessageCreated        EventType = "message_created"
	EventMessageEdited         EventType = "message_edited"
	EventMessageDeleted        EventType = "message_deleted"
	EventMessageReacted        EventType = "message_reacted"
	EventMessageSaved          EventType = "message_saved"
	EventPinnedMessagesUpdated EventType = "pinned_messages_updated"
)

// Event is a real-time change pushed for one channel
type Event struct {
	Type                 EventType       `json:"event"`
	ChannelID            string          `json:"channel_id"`
	MessageID            string          `json:"message_id,omitempty"`
	MessageDetails       json.RawMessage `json:"message_details,omitempty"` // Full message on create, partial fields on edit
	Reactions            string          `json:"reactions,omitempty"`
	LikedBy              string          `json:"liked_by,omitempty"`
	PinnedMessagesString string          `json:"pinned_messages_string,omitempty"`
}

// ValidateChannelID checks that id is usable as one token of a NATS subject.
func ValidateChannelID(id string) error {
	if id == "" {
		return apperrors.NewValidationError("channel_id is empty", nil)
	}
	if strings.ContainsAny(id, ".*>") || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("invalid channel_id %q", id), nil)
	}
	return nil
}

// Validate checks that the event carries the fields its type needs.
func (e *Event) Validate() error {
	if err := ValidateChannelID(e.ChannelID); err != nil {
		return err
	}
	switch e.Type {
	case EventMessageCreated:
		if len(e.MessageDetails) == 0 {
			return apperrors.NewValidationError("message_created needs message_details", nil)
		}
		m, err := e.Message()
		if err != nil {
			return err
		}
		if m.Name == "" {
			return apperrors.NewValidationError("message_created details have no name", nil)
		}
		if m.MessageType != "" && !m.MessageType.Valid() {
			return apperrors.NewValidationError(fmt.Sprintf("unknown message_type %q", m.MessageType), nil)
		}
	case EventMessageEdited:
		if e.MessageID == "" || len(e.MessageDetails) == 0 {
			return apperrors.NewValidationError("message_edited needs message_id and message_details", nil)
		}
	case EventMessageDeleted, EventMessageReacted, EventMessageSaved:
		if e.MessageID == "" {
			return apperrors.NewValidationError(fmt.Sprintf("%s needs message_id", e.Type), nil)
		}
	case EventPinnedMessagesUpdated:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown event %q", e.Type), nil)
	}
	return nil
}

// Message decodes MessageDetails as a full message.
func (e *Event) Message() (Message, error) {
	var m Message
	if err := json.Unmarshal(e.MessageDetails, &m); err != nil {
		return Message{}, apperrors.NewValidationError("decode message_details", err)
	}
	return m, nil
}
