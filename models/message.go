package models

import (
	"encoding/json"
	"strings"
)

// MessageType discriminates the kinds of message a channel can hold
type MessageType string

const (
	MessageTypeText   MessageType = "Text"
	MessageTypeFile   MessageType = "File"
	MessageTypeImage  MessageType = "Image"
	MessageTypePoll   MessageType = "Poll"
	MessageTypeSystem MessageType = "System"

	// MessageTypeDate tags synthetic date separators in a display sequence.
	// It never arrives from the server.
	MessageTypeDate MessageType = "date"
)

// Valid reports whether t is one of the server-side message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeImage, MessageTypePoll, MessageTypeSystem:
		return true
	}
	return false
}

// Message represents a chat message as delivered by the chat backend
type Message struct {
	Name             string      `json:"name"`                        // Unique message ID within the channel
	Owner            string      `json:"owner"`                       // Author (user ID)
	ChannelID        string      `json:"channel_id"`                  // Channel the message belongs to
	Creation         string      `json:"creation"`                    // Server timestamp, "2006-01-02 15:04:05[.ffffff]"
	Modified         string      `json:"modified,omitempty"`          // Last modification timestamp
	MessageType      MessageType `json:"message_type"`                // Text, File, Image, Poll or System
	Text             string      `json:"text,omitempty"`              // Rendered text content
	File             string      `json:"file,omitempty"`              // Attachment URL for File/Image
	PollID           string      `json:"poll_id,omitempty"`           // Poll document for Poll messages
	IsContinuation   int         `json:"is_continuation"`             // Derived: 1 when part of an ongoing burst
	IsPinned         int         `json:"is_pinned"`                   // Derived: 1 when in the channel's pinned set
	IsReply          int         `json:"is_reply,omitempty"`          // 1 when LinkedMessage is set
	LinkedMessage    string      `json:"linked_message,omitempty"`    // Reply target
	MessageReactions string      `json:"message_reactions,omitempty"` // Serialized map emoji -> Reaction
	IsBotMessage     int         `json:"is_bot_message,omitempty"`    // 1 when authored by a bot
	Bot              string      `json:"bot,omitempty"`               // Bot identity for bot messages
	IsEdited         int         `json:"is_edited,omitempty"`
	LikedBy          string      `json:"_liked_by,omitempty"` // Serialized JSON list of users who saved it
}

// Reaction aggregates one emoji on one message
type Reaction struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// IsBot reports whether the message was authored by a bot.
func (m *Message) IsBot() bool {
	return m.IsBotMessage == 1
}

// Sender returns the effective sender: the bot identity for bot messages,
// otherwise the human owner.
func (m *Message) Sender() string {
	if m.IsBot() {
		return m.Bot
	}
	return m.Owner
}

// Date returns the calendar-day part of the creation timestamp, which is
// either "2006-01-02 15:04:05" or RFC 3339.
func (m *Message) Date() string {
	day, _, found := strings.Cut(m.Creation, " ")
	if !found && len(day) > 10 && day[10] == 'T' {
		return day[:10]
	}
	return day
}

// Reactions decodes MessageReactions. Malformed or empty input yields an empty map.
func (m *Message) Reactions() map[string]Reaction {
	out := map[string]Reaction{}
	if m.MessageReactions == "" {
		return out
	}
	if err := json.Unmarshal([]byte(m.MessageReactions), &out); err != nil {
		return map[string]Reaction{}
	}
	return out
}

// LikedByUsers decodes the _liked_by list.
func (m *Message) LikedByUsers() []string {
	return ParseLikedBy(m.LikedBy)
}

// ParseLikedBy decodes a serialized _liked_by list. Malformed input yields nil.
func ParseLikedBy(s string) []string {
	if s == "" {
		return nil
	}
	var users []string
	if err := json.Unmarshal([]byte(s), &users); err != nil {
		return nil
	}
	return users
}
