package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"wabridge/pkg/analytics"
	"wabridge/pkg/bus"
	"wabridge/pkg/channel/whatsapp"
	"wabridge/pkg/completion"
	"wabridge/pkg/config"
	"wabridge/pkg/dispatch"
	"wabridge/pkg/logger"
	"wabridge/pkg/persona"
	"wabridge/pkg/reply"
	"wabridge/pkg/session"
	"wabridge/pkg/settings"
	"wabridge/pkg/telemetry"
)

// New wires the full bridge from cfg. Pairing codes are rendered to terminal
// when cfg.WhatsApp.PrintQR is set.
func New(ctx context.Context, cfg *config.Config, version string, terminal io.Writer, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var closers []func(context.Context) error
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.Background())
		}
		return nil, err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, version, log)
	if err != nil {
		return fail(fmt.Errorf("initialize telemetry: %w", err))
	}
	closers = append(closers, tel.Shutdown)

	counters, err := analytics.New(tel.Meter())
	if err != nil {
		return fail(fmt.Errorf("initialize analytics: %w", err))
	}

	systemPrompt, err := persona.Resolve(cfg.Completion.Persona)
	if err != nil {
		return fail(fmt.Errorf("load persona: %w", err))
	}
	completer := completion.New(cfg.Completion, systemPrompt, log)

	mb := bus.NewMessageBus(cfg.Dispatch.QueueSize)
	manager, closeStore, err := OpenSession(ctx, cfg, mb, terminal, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return closeStore() })

	flags := settings.New()
	pipeline, err := reply.New(reply.Options{
		Switch:       flags,
		Completer:    completer,
		Sender:       manager,
		Counters:     counters,
		Bus:          mb,
		OffNotice:    cfg.Reply.OffNotice,
		FallbackText: cfg.Reply.FallbackText,
		Logger:       log,
	})
	if err != nil {
		return fail(err)
	}

	svc, err := NewService(cfg.Gateway, Components{
		Session:    manager,
		Dispatcher: dispatch.New(mb, pipeline, cfg.Dispatch.Workers, log),
		Bus:        mb,
		Settings:   flags,
		Counters:   counters,
		Completer:  completer,
	}, log)
	if err != nil {
		return fail(err)
	}
	svc.closers = closers

	return svc, nil
}

// OpenSession opens the device store and builds a session manager publishing
// onto mb. The returned function closes the store once the manager has
// stopped.
func OpenSession(ctx context.Context, cfg *config.Config, mb *bus.MessageBus, terminal io.Writer, log *slog.Logger) (*session.Manager, func() error, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := whatsapp.OpenDeviceStore(ctx, cfg.WhatsApp.StorePath, logger.WhatsApp(log, "store", cfg.Logging.WhatsAppLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("open device store: %w", err)
	}

	dialer := whatsapp.NewDialer(cfg.WhatsApp, terminal, logger.WhatsApp(log, "client", cfg.Logging.WhatsAppLevel), log)
	manager := session.NewManager(session.Options{
		Dialer: dialer,
		Store:  store,
		Bus:    mb,
		Policy: session.PolicyFromConfig(cfg.WhatsApp.Reconnect),
		Logger: log,
	})

	return manager, store.Close, nil
}
