package bus

import "time"

// Message event classifications reported by the network layer.
const (
	TypeNotify = "notify"
	TypeAppend = "append"
)

// InboundMessage is one received chat message. It is built once by the
// transport and consumed once by the reply pipeline.
type InboundMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text,omitempty"`
	HasText   bool      `json:"has_text"`
	FromMe    bool      `json:"from_me"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyTo is the address a reply to this message is sent to: the chat the
// message arrived in, falling back to the sender.
func (m InboundMessage) ReplyTo() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	return m.SenderID
}
