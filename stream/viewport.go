package stream

// ScrollKind tells the view how to move its viewport
type ScrollKind string

const (
	// ScrollBottom moves to the newest message.
	ScrollBottom ScrollKind = "bottom"
	// ScrollMessage brings MessageID into view.
	ScrollMessage ScrollKind = "message"
	// ScrollAnchor keeps MessageID at the offset it had before new content
	// was rendered above it.
	ScrollAnchor ScrollKind = "anchor"
)

// ScrollDirective is a one-shot instruction attached to a snapshot. Seq grows
// with every directive so a view can ignore ones it already executed.
type ScrollDirective struct {
	Seq       uint64     `json:"seq"`
	Kind      ScrollKind `json:"kind"`
	MessageID string     `json:"message_id,omitempty"`
	Smooth    bool       `json:"smooth,omitempty"`
}

// viewport tracks what the controller knows about the view's scroll position.
type viewport struct {
	atBottom bool
	seq      uint64
	pending  *ScrollDirective
}

func (v *viewport) scroll(kind ScrollKind, messageID string, smooth bool) {
	v.seq++
	v.pending = &ScrollDirective{Seq: v.seq, Kind: kind, MessageID: messageID, Smooth: smooth}
	if kind == ScrollBottom {
		v.atBottom = true
	}
}

// take returns the pending directive and clears it.
func (v *viewport) take() *ScrollDirective {
	d := v.pending
	v.pending = nil
	return d
}
