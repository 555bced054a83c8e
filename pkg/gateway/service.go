package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wabridge/pkg/analytics"
	"wabridge/pkg/bus"
	"wabridge/pkg/completion"
	"wabridge/pkg/config"
	"wabridge/pkg/session"
	"wabridge/pkg/settings"
)

const (
	defaultHost = "0.0.0.0"

	componentSession    = "session"
	componentDispatcher = "dispatcher"
)

// Session is the part of session.Manager the service drives and reports on.
type Session interface {
	Run(ctx context.Context) error
	State() session.State
	CurrentPairingCode() (string, bool)
}

// Runner is a long-lived loop such as the dispatcher.
type Runner interface {
	Run(ctx context.Context) error
}

// Components are the collaborators a Service runs and exposes over HTTP.
type Components struct {
	Session    Session
	Dispatcher Runner
	Bus        *bus.MessageBus
	Settings   *settings.Store
	Counters   *analytics.Counters
	Completer  completion.Completer
}

type Service struct {
	cfg        config.GatewayConfig
	log        *slog.Logger
	session    Session
	dispatcher Runner
	bus        *bus.MessageBus
	settings   *settings.Store
	counters   *analytics.Counters
	completer  completion.Completer
	closers    []func(context.Context) error

	mu              sync.RWMutex
	startedAt       time.Time
	componentStates map[string]componentState
}

type componentState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	SessionState  session.State             `json:"session_state"`
	Components    map[string]componentState `json:"components"`
}

// NewService assembles a Service from already-built components. Settings and
// Counters default to fresh instances when nil.
func NewService(cfg config.GatewayConfig, c Components, log *slog.Logger) (*Service, error) {
	if c.Session == nil {
		return nil, errors.New("session is required")
	}
	if c.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if c.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if c.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if c.Settings == nil {
		c.Settings = settings.New()
	}
	if c.Counters == nil {
		counters, err := analytics.New(nil)
		if err != nil {
			return nil, fmt.Errorf("initialize analytics: %w", err)
		}
		c.Counters = counters
	}

	return &Service{
		cfg:        cfg,
		log:        log.With("component", "gateway.service"),
		session:    c.Session,
		dispatcher: c.Dispatcher,
		bus:        c.Bus,
		settings:   c.Settings,
		counters:   c.Counters,
		completer:  c.Completer,
		componentStates: map[string]componentState{
			componentSession:    {},
			componentDispatcher: {},
		},
	}, nil
}

// Run starts the session, the dispatcher, the event observer and the control
// surface, and blocks until ctx ends or the HTTP server fails. A logged-out or
// exhausted session is reported on /readyz but leaves the control surface up.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	defer s.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.bus.Observe(gctx, s.log)
		return nil
	})

	g.Go(func() error {
		return s.runComponent(gctx, componentDispatcher, s.dispatcher.Run)
	})

	g.Go(func() error {
		err := s.runComponent(gctx, componentSession, s.session.Run)
		if errors.Is(err, session.ErrLoggedOut) || errors.Is(err, session.ErrReconnectExhausted) {
			s.log.Error("Session stopped; control surface stays up", "error", err)
			return nil
		}
		return err
	})

	g.Go(func() error {
		return s.runHTTPServer(gctx)
	})

	err := g.Wait()
	s.bus.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) runComponent(ctx context.Context, name string, run func(context.Context) error) error {
	s.setComponentState(name, componentState{Running: true})

	err := run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.setComponentState(name, componentState{Running: false, Error: errorString(err)})
	if err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

func (s *Service) runHTTPServer(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = config.DefaultGatewayPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Control server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start control server: %w", err)
	}
	return nil
}

func (s *Service) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.log.Warn("Shutdown step failed", "error", err)
		}
	}
	s.closers = nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	writeJSON(w, s.log, statusCode, s.currentStatus(status))
}

func (s *Service) currentStatus(status string) statusResponse {
	state := s.session.State()

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	components := make(map[string]componentState, len(s.componentStates))
	for name, cs := range s.componentStates {
		components[name] = cs
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		SessionState:  state,
		Components:    components,
	}
}

// isReady is true only while the session is OPEN.
func (s *Service) isReady() bool {
	return s.session.State() == session.StateOpen
}

func (s *Service) setComponentState(name string, state componentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.componentStates[name] = state
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to write response", "error", err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
