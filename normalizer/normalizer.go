// Package normalizer turns a channel's raw newest-first message list into the
// chronological display sequence: date separators between calendar days,
// continuation flags for bursts from one sender and pinned flags.
package normalizer

import (
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/karthikraju391/go-nats-chat-stream/models"
)

// ContinuationWindow is the largest gap between two messages of one burst.
const ContinuationWindow = 120_000 * time.Millisecond

const invalidDateLabel = "Invalid Date"

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// accumulator carries the running state of the walk from oldest to newest.
type accumulator struct {
	items        []models.DisplayItem
	lastDate     string
	lastCreation string
	pinned       map[string]struct{}
}

func (a *accumulator) emitDate(m models.Message) {
	a.items = append(a.items, models.DateItem(m.Date(), DateLabel(m.Date())))
	a.lastDate = m.Date()
}

func (a *accumulator) emit(m models.Message, continuation int) {
	m.IsContinuation = continuation
	m.IsPinned = 0
	if _, ok := a.pinned[m.Name]; ok {
		m.IsPinned = 1
	}
	a.items = append(a.items, models.MessageItem(m))
	a.lastCreation = m.Creation
}

// Normalize builds the display sequence for raw, which must be ordered
// newest-first. raw is not modified; emitted messages are copies.
func Normalize(raw []models.Message, pinned string) []models.DisplayItem {
	if len(raw) == 0 {
		return []models.DisplayItem{}
	}

	acc := accumulator{
		items:  make([]models.DisplayItem, 0, len(raw)+4),
		pinned: ParsePinned(pinned),
	}

	oldest := raw[len(raw)-1]
	acc.emitDate(oldest)
	acc.emit(oldest, 0)

	for i := len(raw) - 2; i >= 0; i-- {
		m := raw[i]
		if m.Date() != acc.lastDate {
			acc.emitDate(m)
		}

		continuation := 1
		prevSender, ok := neighbourSender(raw[i+1])
		if !ok || prevSender != m.Sender() || gapExceeded(acc.lastCreation, m.Creation) {
			continuation = 0
		}
		acc.emit(m, continuation)
	}

	return acc.items
}

// neighbourSender returns the effective sender of the chronologically previous
// message. System messages have no sender and never match.
func neighbourSender(m models.Message) (string, bool) {
	if m.MessageType == models.MessageTypeSystem {
		return "", false
	}
	return m.Sender(), true
}

// gapExceeded reports whether cur was created more than ContinuationWindow
// after prev. Unparseable timestamps always count as exceeded.
func gapExceeded(prev, cur string) bool {
	p, ok := ParseTimestamp(prev)
	if !ok {
		return true
	}
	c, ok := ParseTimestamp(cur)
	if !ok {
		return true
	}
	return c.Sub(p) > ContinuationWindow
}

// ParseTimestamp parses a server timestamp.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateLabel formats a "2006-01-02" date as "2nd January 2006".
func DateLabel(date string) string {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return invalidDateLabel
	}
	return humanize.Ordinal(t.Day()) + " " + t.Format("January 2006")
}

// ParsePinned splits a newline-delimited pinned-messages string into a set of
// trimmed identifiers.
func ParsePinned(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, id := range strings.Split(s, "\n") {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Memo caches the last normalized sequence. Callers pass a version that changes
// whenever the raw list is replaced; an unchanged (version, pinned) pair returns
// the cached sequence without recomputation.
type Memo struct {
	mu      sync.Mutex
	valid   bool
	version uint64
	pinned  string
	items   []models.DisplayItem
}

// Normalize returns the display sequence for raw at the given version.
func (m *Memo) Normalize(version uint64, raw []models.Message, pinned string) []models.DisplayItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && m.version == version && m.pinned == pinned {
		return m.items
	}
	m.items = Normalize(raw, pinned)
	m.version = version
	m.pinned = pinned
	m.valid = true
	return m.items
}

// Reset drops the cached sequence.
func (m *Memo) Reset() {
	m.mu.Lock()
	m.valid = false
	m.items = nil
	m.mu.Unlock()
}
