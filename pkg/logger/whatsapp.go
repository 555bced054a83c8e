package logger

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// whatsAppLogger forwards whatsmeow's printf-style logging onto slog so the
// client shares the process log format and level.
type whatsAppLogger struct {
	base   *slog.Logger
	log    *slog.Logger
	module string
	min    slog.Level
}

// WhatsApp adapts an slog logger to whatsmeow's logger interface. Records
// below minLevel ("debug", "info", "warn", "error"; default "warn") are dropped
// before formatting, since whatsmeow is chatty at debug.
func WhatsApp(log *slog.Logger, module string, minLevel string) waLog.Logger {
	if log == nil {
		log = slog.Default()
	}

	level := slog.LevelWarn
	if minLevel != "" {
		if parsed, err := parseLevelText(minLevel); err == nil {
			level = parsed
		}
	}

	base := log.With("component", "whatsmeow")
	return &whatsAppLogger{
		base:   base,
		log:    base.With("module", module),
		module: module,
		min:    level,
	}
}

func (l *whatsAppLogger) Debugf(msg string, args ...interface{}) { l.emit(slog.LevelDebug, msg, args) }
func (l *whatsAppLogger) Infof(msg string, args ...interface{})  { l.emit(slog.LevelInfo, msg, args) }
func (l *whatsAppLogger) Warnf(msg string, args ...interface{})  { l.emit(slog.LevelWarn, msg, args) }
func (l *whatsAppLogger) Errorf(msg string, args ...interface{}) { l.emit(slog.LevelError, msg, args) }

func (l *whatsAppLogger) Sub(module string) waLog.Logger {
	name := module
	if l.module != "" {
		name = l.module + "/" + module
	}

	return &whatsAppLogger{
		base:   l.base,
		log:    l.base.With("module", name),
		module: name,
		min:    l.min,
	}
}

func (l *whatsAppLogger) emit(level slog.Level, msg string, args []interface{}) {
	if level < l.min {
		return
	}

	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}

	l.log.Log(ctx, level, fmt.Sprintf(msg, args...))
}
