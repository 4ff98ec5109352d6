// Package saved tracks which messages the current user has saved and notifies
// subscribers whenever that set changes.
package saved

import (
	"slices"
	"sort"
	"sync"

	"github.com/karthikraju391/go-nats-chat-stream/models"
)

// Store is the saved-message set of one user.
type Store struct {
	user string

	mu     sync.Mutex
	ids    map[string]struct{}
	nextID int
	subs   map[int]func([]string)
}

func NewStore(user string) *Store {
	return &Store{
		user: user,
		ids:  make(map[string]struct{}),
		subs: make(map[int]func([]string)),
	}
}

// Apply records the new _liked_by list of a message. The message is saved
// when the store's user is in the list.
func (s *Store) Apply(messageID, likedBy string) {
	saved := slices.Contains(models.ParseLikedBy(likedBy), s.user)

	s.mu.Lock()
	_, had := s.ids[messageID]
	if had == saved {
		s.mu.Unlock()
		return
	}
	if saved {
		s.ids[messageID] = struct{}{}
	} else {
		delete(s.ids, messageID)
	}
	list := s.listLocked()
	subs := make([]func([]string), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(list)
	}
}

// Seed loads the saved state of messages the view already holds, without
// notifying subscribers.
func (s *Store) Seed(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range msgs {
		if slices.Contains(msgs[i].LikedByUsers(), s.user) {
			s.ids[msgs[i].Name] = struct{}{}
		}
	}
}

// IsSaved reports whether messageID is saved.
func (s *Store) IsSaved(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[messageID]
	return ok
}

// List returns the saved identifiers in sorted order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Subscribe registers fn for change notifications and returns a function that
// removes it. fn runs on the goroutine that applied the change.
func (s *Store) Subscribe(fn func([]string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) listLocked() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
