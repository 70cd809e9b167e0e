package bus

import "time"

// InboundMessage is one turn descriptor arriving from a chat front-end.
// Language is a best-effort hint; "unknown" when the front-end has none.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Language  string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]any
}
