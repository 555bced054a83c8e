// Package session owns the single long-lived connection to the messaging
// network: dialing, pairing, credential persistence and reconnection.
package session

import (
	"context"
	"errors"

	"wabridge/pkg/bus"
)

// State is the connection state of the manager.
type State string

const (
	StateDisconnected    State = "DISCONNECTED"
	StateAwaitingPairing State = "AWAITING_PAIRING"
	StateOpen            State = "OPEN"
	StateClosed          State = "CLOSED"
	StateReconnecting    State = "RECONNECTING"
	StateLoggedOut       State = "LOGGED_OUT"
)

var (
	// ErrLoggedOut means the identity was logged out remotely. The manager
	// never reconnects after it; re-pairing requires a restart with fresh
	// credentials.
	ErrLoggedOut = errors.New("session logged out")
	// ErrNotConnected is returned by Send unless the session is OPEN.
	ErrNotConnected = errors.New("session not connected")
	// ErrReconnectExhausted is returned by Run when the reconnect policy
	// runs out of attempts.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Credentials is opaque authentication material. Device is owned by the
// transport (a *store.Device for WhatsApp); the manager only passes it back.
type Credentials struct {
	Paired bool
	Device any
}

// CredentialStore persists credentials across restarts.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
}

type EventKind string

const (
	EventPairingCode EventKind = "pairing_code"
	EventOpened      EventKind = "opened"
	EventClosed      EventKind = "closed"
	EventCredentials EventKind = "credentials"
	EventMessage     EventKind = "message"
)

// Event is emitted by a Conn. Which fields are set depends on Kind.
type Event struct {
	Kind        EventKind
	Code        string
	Reason      string
	LoggedOut   bool
	Credentials Credentials
	Message     bus.InboundMessage
}

// Conn is one dialed connection. It is used once: after it emits
// EventClosed (or its event channel closes) it is discarded.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, to, text string) error
	Close() error
}

// PresenceConn is a Conn that can show a typing state in a chat.
type PresenceConn interface {
	Conn
	SetComposing(ctx context.Context, to string, composing bool) error
}

// Dialer opens a brand-new Conn. Unpaired credentials make the Conn emit
// pairing codes; paired credentials re-authenticate silently.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}
