// Package whatsapp is the WhatsApp multi-device transport behind the session
// manager, built on whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/config"
	"wabridge/pkg/session"
)

const eventBuffer = 64

// Dialer creates one whatsmeow client per Dial. Auto-reconnect is disabled;
// the session manager decides when to dial again.
type Dialer struct {
	clientLog waLog.Logger
	qr        qrRenderer
	log       *slog.Logger
}

// NewDialer configures pairing-code output from cfg. terminal may be nil to
// skip terminal rendering.
func NewDialer(cfg config.WhatsAppConfig, terminal io.Writer, clientLog waLog.Logger, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	if clientLog == nil {
		clientLog = waLog.Noop
	}

	renderer := qrRenderer{imagePath: cfg.QRImagePath}
	if cfg.PrintQR {
		renderer.terminal = terminal
	}

	return &Dialer{
		clientLog: clientLog,
		qr:        renderer,
		log:       log.With("component", "channel.whatsapp"),
	}
}

func (d *Dialer) Dial(ctx context.Context, creds session.Credentials) (session.Conn, error) {
	device, ok := creds.Device.(*store.Device)
	if !ok || device == nil {
		return nil, errNoDevice
	}

	client := whatsmeow.NewClient(device, d.clientLog)
	client.EnableAutoReconnect = false

	c := &conn{
		client: client,
		events: make(chan session.Event, eventBuffer),
		done:   make(chan struct{}),
		qr:     d.qr,
		log:    d.log,
	}
	c.handlerID = client.AddEventHandler(c.handle)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			client.RemoveEventHandler(c.handlerID)
			return nil, fmt.Errorf("request pairing channel: %w", err)
		}
		go c.watchPairing(qrChan)
	}

	if err := client.Connect(); err != nil {
		c.shutdown()
		return nil, fmt.Errorf("connect whatsapp: %w", err)
	}

	return c, nil
}

// conn adapts one whatsmeow client to session.Conn.
type conn struct {
	client    *whatsmeow.Client
	handlerID uint32
	events    chan session.Event
	qr        qrRenderer
	log       *slog.Logger

	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Events() <-chan session.Event { return c.events }

func (c *conn) Send(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	if _, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)}); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	c.log.Debug("Sent message", "chat_id", to, "content", channel.PreviewText(text))
	return nil
}

func (c *conn) SetComposing(ctx context.Context, to string, composing bool) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return c.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

func (c *conn) Close() error {
	c.shutdown()
	return nil
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.client.RemoveEventHandler(c.handlerID)
		c.client.Disconnect()
	})
}

// emit forwards ev to the session manager. Only the first close is sent.
func (c *conn) emit(ev session.Event) {
	if ev.Kind == session.EventClosed && !c.closing.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// handle runs on whatsmeow's event goroutine.
func (c *conn) handle(evt any) {
	if v, ok := evt.(*events.HistorySync); ok {
		c.expandHistory(v)
		return
	}

	ev, ok := translate(evt, c.client.Store)
	if !ok {
		return
	}

	switch ev.Kind {
	case session.EventMessage:
		c.log.Debug("Received message",
			"chat_id", ev.Message.ChatID,
			"sender_id", ev.Message.SenderID,
			"from_me", ev.Message.FromMe,
			"content", channel.PreviewText(ev.Message.Text),
		)
	case session.EventClosed:
		c.log.Info("Connection closed", "reason", ev.Reason, "logged_out", ev.LoggedOut)
	}
	c.emit(ev)
}

// expandHistory re-emits synced messages as append events so the dispatcher
// sees and drops them.
func (c *conn) expandHistory(v *events.HistorySync) {
	for _, conv := range v.Data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			c.log.Debug("Skipping history conversation", "id", conv.GetID(), "error", err)
			continue
		}
		for _, item := range conv.GetMessages() {
			webMsg := item.GetMessage()
			if webMsg == nil {
				continue
			}
			parsed, err := c.client.ParseWebMessage(chat, webMsg)
			if err != nil {
				c.log.Debug("Skipping history message", "chat_id", chat.String(), "error", err)
				continue
			}
			msg := inboundMessage(parsed)
			msg.Type = bus.TypeAppend
			c.emit(session.Event{Kind: session.EventMessage, Message: msg})
		}
	}
}

// watchPairing relays pairing codes until the QR channel ends.
func (c *conn) watchPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-c.done:
			return
		case item, ok := <-qrChan:
			if !ok {
				return
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				if err := c.qr.render(item.Code); err != nil {
					c.log.Warn("Failed to render pairing code", "error", err)
				}
				c.emit(session.Event{Kind: session.EventPairingCode, Code: item.Code})
			case whatsmeow.QRChannelSuccess.Event:
				c.log.Info("Pairing code scanned")
			case whatsmeow.QRChannelTimeout.Event:
				c.emit(closed("pairing code timed out", false))
			case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				// whatsmeow keeps issuing codes after this one.
				c.log.Warn("Pairing code scanned by a phone without multi-device enabled")
			default:
				reason := "pairing failed: " + item.Event
				if item.Error != nil && !errors.Is(item.Error, context.Canceled) {
					reason += ": " + item.Error.Error()
				}
				c.emit(closed(reason, false))
			}
		}
	}
}
