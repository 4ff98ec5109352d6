package handlers

import (
	"sync"

	"github.com/karthikraju391/go-nats-chat-stream/stream"
)

// Frame types sent to the client.
const (
	FrameSnapshot = "snapshot"
	FrameSaved    = "saved"
	FrameError    = "error"
)

// Frame is one JSON message written to the websocket.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// latest holds only the newest value put into it. Producers never block;
// the writer wakes on ready and takes whatever is newest.
type latest[T any] struct {
	mu    sync.Mutex
	val   *T
	merge func(prev, next T) T
	ready chan struct{}
}

func newLatest[T any](merge func(prev, next T) T) *latest[T] {
	return &latest[T]{merge: merge, ready: make(chan struct{}, 1)}
}

func (l *latest[T]) put(v T) {
	l.mu.Lock()
	if l.val != nil && l.merge != nil {
		v = l.merge(*l.val, v)
	}
	l.val = &v
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest[T]) take() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.val == nil {
		var zero T
		return zero, false
	}
	v := *l.val
	l.val = nil
	return v, true
}

// mergeSnapshots keeps a scroll directive that an unsent snapshot carried
// when the snapshot replacing it has none.
func mergeSnapshots(prev, next stream.Snapshot) stream.Snapshot {
	if next.Scroll == nil {
		next.Scroll = prev.Scroll
	}
	return next
}
