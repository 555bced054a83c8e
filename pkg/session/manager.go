package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
)

// closeNotice tells Run that the current connection ended.
type closeNotice struct {
	reason    string
	loggedOut bool
	opened    bool
}

// Manager holds at most one live Conn. A reconnect dials a new Conn; the old
// one is closed and never reused.
type Manager struct {
	dialer Dialer
	store  CredentialStore
	bus    *bus.MessageBus
	policy ReconnectPolicy
	log    *slog.Logger

	mu      sync.Mutex
	state   State
	code    string
	conn    Conn
	dialing bool

	closed chan closeNotice
	wg     sync.WaitGroup
	sleep  func(ctx context.Context, d time.Duration) error
}

type Options struct {
	Dialer Dialer
	Store  CredentialStore
	Bus    *bus.MessageBus
	Policy ReconnectPolicy
	Logger *slog.Logger
}

func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	policy := opts.Policy
	if policy.InitialInterval <= 0 || policy.MaxInterval <= 0 || policy.Multiplier < 1 {
		defaults := DefaultReconnectPolicy()
		defaults.MaxAttempts = policy.MaxAttempts
		policy = defaults
	}

	return &Manager{
		dialer: opts.Dialer,
		store:  opts.Store,
		bus:    opts.Bus,
		policy: policy,
		log:    log.With("component", "session.manager"),
		state:  StateDisconnected,
		closed: make(chan closeNotice, 1),
		sleep:  sleepContext,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentPairingCode returns the most recently issued code that has not been
// consumed by a successful login.
func (m *Manager) CurrentPairingCode() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.code == "" {
		return "", false
	}
	return m.code, true
}

// Connect dials a new connection unless one is live or being dialed. ctx
// bounds the lifetime of the connection's event handling.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return ErrLoggedOut
	}
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.mu.Unlock()

	conn, err := m.dial(ctx)

	m.mu.Lock()
	m.dialing = false
	if err == nil {
		m.conn = conn
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go m.consume(ctx, conn)
	return nil
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	creds, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	m.log.Info("Dialing session", "paired", creds.Paired)
	conn, err := m.dialer.Dial(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("dial session: %w", err)
	}
	return conn, nil
}

// Paired reports whether the credential store already holds a linked
// identity.
func (m *Manager) Paired(ctx context.Context) (bool, error) {
	creds, err := m.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load credentials: %w", err)
	}
	return creds.Paired, nil
}

// Send delivers text through the live connection.
func (m *Manager) Send(ctx context.Context, to, text string) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, to, text)
}

// StartTyping shows a typing indicator in chat to until the returned function
// is called. It is a no-op when the session is not OPEN or the transport has
// no presence support.
func (m *Manager) StartTyping(ctx context.Context, to string) func() {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	pc, ok := conn.(PresenceConn)
	if !open || !ok {
		return func() {}
	}

	return channel.StartTyping(ctx, channel.TypingRefreshInterval, func(ctx context.Context, composing bool) error {
		return pc.SetComposing(ctx, to, composing)
	}, m.log)
}

// Run connects and keeps the session alive until ctx ends, the identity is
// logged out, or the reconnect policy gives up. Cancelling ctx closes the live
// connection; Run returns once its event loop has exited.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()

	schedule := m.policy.newBackOff()

	if err := m.Connect(ctx); err != nil {
		if errors.Is(err, ErrLoggedOut) {
			return err
		}
		m.log.Warn("Initial connect failed", "error", err)
		m.transition(StateClosed, err.Error())
		if err := m.reconnect(ctx, schedule); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice := <-m.closed:
			if notice.loggedOut {
				m.log.Error("Session logged out; re-pairing required", "reason", notice.reason)
				return ErrLoggedOut
			}
			if notice.opened {
				schedule.Reset()
			}
			m.log.Warn("Session closed; reconnecting", "reason", notice.reason)
			if err := m.reconnect(ctx, schedule); err != nil {
				return err
			}
		}
	}
}

// reconnect retries Connect on the backoff schedule until a dial succeeds.
func (m *Manager) reconnect(ctx context.Context, schedule backoff.BackOff) error {
	for attempt := 1; ; attempt++ {
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			m.log.Error("Reconnect attempts exhausted", "max_attempts", m.policy.MaxAttempts)
			m.transition(StateClosed, "reconnect attempts exhausted")
			return ErrReconnectExhausted
		}

		m.transition(StateReconnecting, "")
		m.log.Info("Reconnect scheduled", "attempt", attempt, "delay", delay)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}

		err := m.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrLoggedOut) {
			return err
		}
		m.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
		m.transition(StateClosed, err.Error())
	}
}

// Wait blocks until every connection event loop has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// consume is the event loop of one connection.
func (m *Manager) consume(ctx context.Context, conn Conn) {
	defer m.wg.Done()

	opened := false
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			m.release(conn)
			return
		case ev, ok := <-events:
			if !ok {
				m.finish(conn, closeNotice{reason: "event stream ended", opened: opened})
				return
			}

			switch ev.Kind {
			case EventPairingCode:
				m.setPairingCode(ev.Code)
			case EventOpened:
				opened = true
				m.opened()
			case EventCredentials:
				// Persisted before the next event is read.
				if err := m.store.Save(ctx, ev.Credentials); err != nil {
					m.log.Error("Failed to persist credentials", "error", err)
				}
			case EventMessage:
				m.forward(ev.Message)
			case EventClosed:
				m.finish(conn, closeNotice{reason: ev.Reason, loggedOut: ev.LoggedOut, opened: opened})
				return
			}
		}
	}
}

// forward hands msg to the dispatcher without waiting for queue space, so a
// saturated reply pool never holds up close or credential events.
func (m *Manager) forward(msg bus.InboundMessage) {
	if m.bus == nil || m.bus.TryPublishInbound(msg) {
		return
	}

	m.log.Warn("Inbound queue full; message dropped", "chat_id", msg.ChatID, "message_id", msg.ID)
	m.bus.PublishEvent(context.Background(), bus.Event{
		Type:      bus.EventMessageDropped,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Payload:   map[string]string{"reason": "queue_full"},
	})
}

func (m *Manager) setPairingCode(code string) {
	m.mu.Lock()
	if m.state == StateLoggedOut || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	m.code = code
	m.mu.Unlock()

	m.transition(StateAwaitingPairing, "")
	m.log.Info("Pairing code issued")
}

func (m *Manager) opened() {
	m.mu.Lock()
	m.code = ""
	m.mu.Unlock()

	m.transition(StateOpen, "")
}

// finish records the end of conn and notifies Run.
func (m *Manager) finish(conn Conn, notice closeNotice) {
	next := StateClosed
	if notice.loggedOut {
		next = StateLoggedOut
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	// Codes are bound to the connection that issued them.
	m.code = ""
	m.mu.Unlock()

	_ = conn.Close()
	m.transition(next, notice.reason)

	select {
	case m.closed <- notice:
	default:
		m.log.Debug("Close notice dropped; no reconnect loop waiting", "reason", notice.reason)
	}
}

// release closes conn on shutdown without scheduling a reconnect.
func (m *Manager) release(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.code = ""
	m.mu.Unlock()

	_ = conn.Close()
	m.transition(StateDisconnected, "shutdown")
}

func (m *Manager) transition(next State, reason string) {
	m.mu.Lock()
	prev := m.state
	if prev == StateLoggedOut || prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	attrs := []any{"from", string(prev), "to", string(next)}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	m.log.Info("Session state changed", attrs...)

	if m.bus != nil {
		payload := map[string]string{"state": string(next), "previous": string(prev)}
		if reason != "" {
			payload["reason"] = reason
		}
		m.bus.PublishEvent(context.Background(), bus.Event{Type: bus.EventSessionState, Payload: payload})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
