package bus

import (
	"time"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	// Command is the slash command without the leading slash or @bot suffix;
	// Content then holds only its arguments.
	Command string
	// CallbackID and Action are set for button presses.
	CallbackID string
	Action     string
	// Mentions holds user ids referenced by the message (text mentions, reply target).
	Mentions []string
	Metadata map[string]any
}

// IsCallback reports whether the message is a button press.
func (m *InboundMessage) IsCallback() bool {
	return m.CallbackID != ""
}

// Button is an inline control carrying persistent callback data.
type Button struct {
	Text string
	Data string
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// CallbackID answers a button press; the text is shown only to the presser.
	CallbackID string
	Buttons    [][]Button
}
