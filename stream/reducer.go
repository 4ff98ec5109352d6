package stream

import (
	"encoding/json"
	"sort"

	"github.com/karthikraju391/go-nats-chat-stream/fetcher"
	"github.com/karthikraju391/go-nats-chat-stream/models"
)

// State is the raw list backing one channel view. Messages are newest-first.
// A State is never modified in place: every transition returns new slices.
type State struct {
	Messages       []models.Message `json:"messages"`
	HasOldMessages bool             `json:"has_old_messages"`
	HasNewMessages bool             `json:"has_new_messages"`

	// Rev identifies this value for memoized normalization. The controller
	// assigns a fresh revision to every state it stores.
	Rev uint64 `json:"-"`
}

// FromWindow builds the state for a freshly fetched window.
func FromWindow(w fetcher.Window) State {
	return State{
		Messages:       clone(w.Messages),
		HasOldMessages: w.HasOldMessages,
		HasNewMessages: w.HasNewMessages,
	}
}

// Revise returns s stamped with a fresh revision. Every state stored in the
// cache is revised so views can tell it apart from what they last rendered.
func (s State) Revise() State {
	s.Rev = nextRev()
	return s
}

// Oldest returns the identifier of the oldest message held.
func (s State) Oldest() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Name
}

// Newest returns the identifier of the newest message held.
func (s State) Newest() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].Name
}

// Index returns the position of the message with the given name, or -1.
func (s State) Index(name string) int {
	for i := range s.Messages {
		if s.Messages[i].Name == name {
			return i
		}
	}
	return -1
}

// AppendOlder adds an older page behind the current list. Pages are trusted
// to be sorted by the server and are not re-sorted.
func AppendOlder(s State, p fetcher.OlderPage) State {
	next := make([]models.Message, 0, len(s.Messages)+len(p.Messages))
	next = append(next, s.Messages...)
	next = append(next, p.Messages...)
	return State{Messages: next, HasOldMessages: p.HasOldMessages, HasNewMessages: s.HasNewMessages}
}

// PrependNewer puts a newer page in front of the current list.
func PrependNewer(s State, p fetcher.NewerPage) State {
	next := make([]models.Message, 0, len(s.Messages)+len(p.Messages))
	next = append(next, p.Messages...)
	next = append(next, s.Messages...)
	return State{Messages: next, HasOldMessages: s.HasOldMessages, HasNewMessages: p.HasNewMessages}
}

// ApplyEvent returns the state after ev for the view of channelID and whether
// anything changed. Events whose target message is not held are ignored.
func ApplyEvent(s State, ev models.Event, channelID string) (State, bool) {
	if ev.ChannelID != channelID {
		return s, false
	}

	switch ev.Type {
	case models.EventMessageCreated:
		return applyCreated(s, ev)
	case models.EventMessageEdited:
		return updateMessage(s, ev.MessageID, func(m *models.Message) bool {
			// Unmarshal over a copy only touches the fields present in the payload.
			return json.Unmarshal(ev.MessageDetails, m) == nil
		})
	case models.EventMessageDeleted:
		return applyDeleted(s, ev.MessageID)
	case models.EventMessageReacted:
		return updateMessage(s, ev.MessageID, func(m *models.Message) bool {
			m.MessageReactions = ev.Reactions
			return true
		})
	case models.EventMessageSaved:
		return updateMessage(s, ev.MessageID, func(m *models.Message) bool {
			m.LikedBy = ev.LikedBy
			return true
		})
	case models.EventPinnedMessagesUpdated:
		// Pins live outside the raw list.
		return s, false
	}
	return s, false
}

func applyCreated(s State, ev models.Event) (State, bool) {
	if s.HasNewMessages {
		// The view is not at the live edge; the message arrives with the next newer page.
		return s, false
	}
	m, err := ev.Message()
	if err != nil || m.Name == "" {
		return s, false
	}

	next := clone(s.Messages)
	if i := s.Index(m.Name); i >= 0 {
		next[i] = m
	} else {
		next = append(next, m)
	}
	sortNewestFirst(next)
	return State{Messages: next, HasOldMessages: s.HasOldMessages, HasNewMessages: s.HasNewMessages}, true
}

func applyDeleted(s State, name string) (State, bool) {
	i := s.Index(name)
	if i < 0 {
		return s, false
	}
	next := make([]models.Message, 0, len(s.Messages)-1)
	next = append(next, s.Messages[:i]...)
	next = append(next, s.Messages[i+1:]...)
	return State{Messages: next, HasOldMessages: s.HasOldMessages, HasNewMessages: s.HasNewMessages}, true
}

func updateMessage(s State, name string, fn func(*models.Message) bool) (State, bool) {
	i := s.Index(name)
	if i < 0 {
		return s, false
	}
	updated := s.Messages[i]
	if !fn(&updated) {
		return s, false
	}
	next := clone(s.Messages)
	next[i] = updated
	return State{Messages: next, HasOldMessages: s.HasOldMessages, HasNewMessages: s.HasNewMessages}, true
}

// sortNewestFirst orders by creation descending. Timestamps share one format,
// so the lexical order is the temporal order.
func sortNewestFirst(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Creation > msgs[j].Creation
	})
}

func clone(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}
