// Package logger builds the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"wabridge/pkg/config"
)

const (
	envLogFormat    = "WABRIDGE_LOG_FORMAT"
	envLogLevel     = "WABRIDGE_LOG_LEVEL"
	envLogAddSource = "WABRIDGE_LOG_ADD_SOURCE"

	defaultFormat = "text"
	defaultLevel  = "info"
)

var formatters = map[string]charmLog.Formatter{
	"text":   charmLog.TextFormatter,
	"json":   charmLog.JSONFormatter,
	"logfmt": charmLog.LogfmtFormatter,
}

// New builds the process logger on stderr. Every format goes through
// charmbracelet/log; json and logfmt lines carry component as a plain key
// so collectors can filter on it.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	format := strings.ToLower(firstNonEmpty(os.Getenv(envLogFormat), cfg.Format, defaultFormat))
	formatter, ok := formatters[format]
	if !ok {
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevelText(firstNonEmpty(os.Getenv(envLogLevel), cfg.Level, defaultLevel))
	if err != nil {
		return nil, err
	}

	addSource := cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envLogAddSource)); env != "" {
		addSource = parseBool(env)
	}

	opts := charmLog.Options{
		Level:           charmLog.Level(level),
		ReportTimestamp: true,
		ReportCaller:    addSource,
		Formatter:       formatter,
	}
	if formatter != charmLog.TextFormatter {
		opts.TimeFormat = time.RFC3339Nano
	}

	return slog.New(charmLog.NewWithOptions(writer, opts)), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseLevelText(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", input)
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
