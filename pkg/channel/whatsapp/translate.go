package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types/events"

	"wabridge/pkg/bus"
	"wabridge/pkg/session"
)

// extractText returns the plain or extended text body of a message. Media
// and every other message type carry no text.
func extractText(msg *waE2E.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	if text := msg.GetConversation(); text != "" {
		return text, true
	}
	if text := msg.GetExtendedTextMessage().GetText(); text != "" {
		return text, true
	}
	return "", false
}

// inboundMessage converts a whatsmeow message. Messages rebuilt from a web
// message (history sync) are classified as append, live ones as notify.
func inboundMessage(v *events.Message) bus.InboundMessage {
	text, hasText := extractText(v.Message)

	kind := bus.TypeNotify
	if v.SourceWebMsg != nil {
		kind = bus.TypeAppend
	}

	return bus.InboundMessage{
		ID:        v.Info.ID,
		SenderID:  v.Info.Sender.String(),
		ChatID:    v.Info.Chat.String(),
		Text:      text,
		HasText:   hasText,
		FromMe:    v.Info.IsFromMe,
		Type:      kind,
		Timestamp: v.Info.Timestamp,
	}
}

// translate maps a single whatsmeow event onto a session event. History
// syncs are expanded by the connection, not here.
func translate(evt any, device *store.Device) (session.Event, bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return session.Event{Kind: session.EventOpened}, true
	case *events.PairSuccess:
		return session.Event{
			Kind:        session.EventCredentials,
			Credentials: session.Credentials{Paired: true, Device: device},
		}, true
	case *events.Message:
		return session.Event{Kind: session.EventMessage, Message: inboundMessage(v)}, true
	case *events.LoggedOut:
		return closed(fmt.Sprintf("logged out (%v)", v.Reason), true), true
	case *events.ConnectFailure:
		reason := fmt.Sprintf("connect failure (%v)", v.Reason)
		if msg := strings.TrimSpace(v.Message); msg != "" {
			reason += ": " + msg
		}
		return closed(reason, v.Reason.IsLoggedOut()), true
	case *events.StreamReplaced:
		return closed("stream replaced", false), true
	case *events.TemporaryBan:
		return closed(fmt.Sprintf("temporary ban: %v", v), false), true
	case *events.ClientOutdated:
		return closed("client outdated", false), true
	case *events.StreamError:
		return closed("stream error: "+v.Code, false), true
	case *events.Disconnected:
		return closed("disconnected", false), true
	default:
		return session.Event{}, false
	}
}

func closed(reason string, loggedOut bool) session.Event {
	return session.Event{Kind: session.EventClosed, Reason: reason, LoggedOut: loggedOut}
}
