package models

import "encoding/json"

// DateSeparator is the synthetic entity inserted between messages that fall on
// different calendar days
type DateSeparator struct {
	Creation    string      `json:"creation"`     // Formatted label, e.g. "1st January 2024"
	MessageType MessageType `json:"message_type"` // Always MessageTypeDate
	Name        string      `json:"name"`         // The date string, "2024-01-01"
}

// DisplayItem is one entry of a display sequence. Exactly one of Message and
// Separator is set.
type DisplayItem struct {
	Message   *Message
	Separator *DateSeparator
}

// DateItem builds a separator item.
func DateItem(date, label string) DisplayItem {
	return DisplayItem{Separator: &DateSeparator{
		Creation:    label,
		MessageType: MessageTypeDate,
		Name:        date,
	}}
}

// MessageItem wraps a message.
func MessageItem(m Message) DisplayItem {
	return DisplayItem{Message: &m}
}

// Type returns the tag of the item.
func (d DisplayItem) Type() MessageType {
	if d.Separator != nil {
		return MessageTypeDate
	}
	if d.Message != nil {
		return d.Message.MessageType
	}
	return ""
}

// IsDate reports whether the item is a date separator.
func (d DisplayItem) IsDate() bool {
	return d.Separator != nil
}

// Name returns the identifier of the wrapped entity.
func (d DisplayItem) Name() string {
	switch {
	case d.Separator != nil:
		return d.Separator.Name
	case d.Message != nil:
		return d.Message.Name
	}
	return ""
}

// MarshalJSON flattens the item into the shape of the wrapped entity.
func (d DisplayItem) MarshalJSON() ([]byte, error) {
	if d.Separator != nil {
		return json.Marshal(d.Separator)
	}
	return json.Marshal(d.Message)
}

// UnmarshalJSON restores the tag from message_type.
func (d *DisplayItem) UnmarshalJSON(data []byte) error {
	var head struct {
		MessageType MessageType `json:"message_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.MessageType == MessageTypeDate {
		var sep DateSeparator
		if err := json.Unmarshal(data, &sep); err != nil {
			return err
		}
		*d = DisplayItem{Separator: &sep}
		return nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*d = DisplayItem{Message: &m}
	return nil
}
