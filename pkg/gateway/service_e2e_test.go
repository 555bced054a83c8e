package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wabridge/pkg/bus"
	"wabridge/pkg/config"
	"wabridge/pkg/dispatch"
	"wabridge/pkg/reply"
	"wabridge/pkg/session"
	"wabridge/pkg/settings"
)

// scriptedSession opens, publishes its inbound script onto the bus, then
// records replies until ctx ends.
type scriptedSession struct {
	bus     *bus.MessageBus
	inbound []bus.InboundMessage
	runErr  error
	replies chan sentReply

	mu    sync.Mutex
	state session.State
}

type sentReply struct {
	to   string
	text string
}

func newScriptedSession(mb *bus.MessageBus, inbound ...bus.InboundMessage) *scriptedSession {
	return &scriptedSession{
		bus:     mb,
		inbound: inbound,
		replies: make(chan sentReply, 16),
		state:   session.StateDisconnected,
	}
}

func (s *scriptedSession) Run(ctx context.Context) error {
	if s.runErr != nil {
		s.setState(session.StateLoggedOut)
		return s.runErr
	}

	s.setState(session.StateOpen)
	for _, msg := range s.inbound {
		if !s.bus.PublishInbound(ctx, msg) {
			return ctx.Err()
		}
	}

	<-ctx.Done()
	s.setState(session.StateDisconnected)
	return ctx.Err()
}

func (s *scriptedSession) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *scriptedSession) setState(state session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *scriptedSession) CurrentPairingCode() (string, bool) { return "", false }

func (s *scriptedSession) Send(_ context.Context, to, text string) error {
	s.replies <- sentReply{to: to, text: text}
	return nil
}

func startService(t *testing.T, sess *scriptedSession, mb *bus.MessageBus, completer *fakeCompleter) (int, context.CancelFunc, <-chan error) {
	t.Helper()

	flags := settings.New()
	pipeline, err := reply.New(reply.Options{
		Switch:    flags,
		Completer: completer,
		Sender:    sess,
		Bus:       mb,
		Logger:    slog.Default(),
	})
	require.NoError(t, err)

	port := freeTCPPort(t)
	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: port}, Components{
		Session:    sess,
		Dispatcher: dispatch.New(mb, pipeline, 2, slog.Default()),
		Bus:        mb,
		Settings:   flags,
		Completer:  completer,
	}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	return port, cancel, errCh
}

func waitRunExit(t *testing.T, errCh <-chan error) {
	t.Helper()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestServiceRunE2ERepliesToInboundMessages(t *testing.T) {
	mb := bus.NewMessageBus(8)
	sess := newScriptedSession(mb,
		bus.InboundMessage{ID: "1", ChatID: "100@s.whatsapp.net", Text: "one", HasText: true, Type: bus.TypeNotify},
		bus.InboundMessage{ID: "2", ChatID: "100@s.whatsapp.net", Text: "mine", HasText: true, FromMe: true, Type: bus.TypeNotify},
		bus.InboundMessage{ID: "3", ChatID: "200@s.whatsapp.net", Text: "two", HasText: true, Type: bus.TypeNotify},
	)
	completer := &fakeCompleter{echo: true}

	port, cancel, errCh := startService(t, sess, mb, completer)
	defer cancel()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, http.StatusOK, 2*time.Second))

	got := map[string]string{}
	for range 2 {
		select {
		case r := <-sess.replies:
			got[r.to] = r.text
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for replies")
		}
	}

	cancel()
	waitRunExit(t, errCh)

	require.Equal(t, map[string]string{
		"100@s.whatsapp.net": "ok:one",
		"200@s.whatsapp.net": "ok:two",
	}, got)
	require.Equal(t, 2, completer.callCount())
	require.Empty(t, sess.replies)
}

func TestServiceRunKeepsControlSurfaceAfterLogout(t *testing.T) {
	mb := bus.NewMessageBus(8)
	sess := newScriptedSession(mb)
	sess.runErr = session.ErrLoggedOut

	port, cancel, errCh := startService(t, sess, mb, &fakeCompleter{reply: "unused"})
	defer cancel()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Equal(t, http.StatusServiceUnavailable, waitHTTPStatus(t, base+"/readyz", http.StatusServiceUnavailable, 2*time.Second))

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var status statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		cs := status.Components[componentSession]
		return status.SessionState == session.StateLoggedOut && !cs.Running && cs.Error != ""
	}, 2*time.Second, 25*time.Millisecond)

	cancel()
	waitRunExit(t, errCh)
}

// waitHTTPStatus polls url until it answers with want or timeout passes, and
// returns the last status seen.
func waitHTTPStatus(t *testing.T, url string, want int, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	last := 0
	for {
		response, err := http.Get(url)
		if err == nil {
			last = response.StatusCode
			require.NoError(t, response.Body.Close())
			if last == want {
				return last
			}
		}

		if time.Now().After(deadline) {
			if last == 0 {
				t.Fatalf("timed out waiting for %s: %v", url, err)
			}
			return last
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
