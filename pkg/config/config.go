package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	envConfigPath = "WABRIDGE_CONFIG"
	envPrefix     = "wabridge"

	DefaultCompletionBaseURL = "https://openrouter.ai/api/v1"
	DefaultCompletionModel   = "openai/gpt-3.5-turbo"
	DefaultAPIKeyEnv         = "OPENROUTER_API_KEY"
	DefaultGatewayPort       = 5000
	DefaultDispatchWorkers   = 8
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Completion CompletionConfig `json:"completion"`
	Reply      ReplyConfig      `json:"reply"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Gateway    GatewayConfig    `json:"gateway"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format        string `json:"format,omitempty"`
	Level         string `json:"level,omitempty"`
	AddSource     bool   `json:"add_source,omitempty"`
	WhatsAppLevel string `json:"whatsapp_level,omitempty"`
}

// WhatsAppConfig configures the messaging session and its credential store.
type WhatsAppConfig struct {
	StorePath   string          `json:"store_path"`
	QRImagePath string          `json:"qr_image_path"`
	PrintQR     bool            `json:"print_qr"`
	Reconnect   ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig bounds the reconnect loop. MaxAttempts 0 retries forever.
type ReconnectConfig struct {
	InitialIntervalMillis int     `json:"initial_interval_ms"`
	MaxIntervalSeconds    int     `json:"max_interval_seconds"`
	Multiplier            float64 `json:"multiplier"`
	MaxAttempts           int     `json:"max_attempts"`
}

// CompletionConfig configures the OpenAI-compatible completion client.
type CompletionConfig struct {
	BaseURL               string `json:"base_url"`
	Model                 string `json:"model"`
	APIKeyEnv             string `json:"api_key_env"`
	Referer               string `json:"referer"`
	Persona               string `json:"persona"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ReplyConfig controls what senders see when the bot does not answer normally.
type ReplyConfig struct {
	OffNotice    string `json:"off_notice"`
	FallbackText string `json:"fallback_text"`
}

// DispatchConfig sizes the inbound worker pool.
type DispatchConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// GatewayConfig configures HTTP control surface bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TelemetryConfig configures OTLP metric export for analytics counters.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Insecure bool   `json:"insecure"`
}

// envOverrides lists every setting that can be injected through the
// environment. Unset variables leave the file value untouched.
type envOverrides struct {
	StorePath    string `envconfig:"STORE_PATH"`
	QRImagePath  string `envconfig:"QR_IMAGE_PATH"`
	PrintQR      *bool  `envconfig:"PRINT_QR"`
	MaxAttempts  *int   `envconfig:"RECONNECT_MAX_ATTEMPTS"`
	BaseURL      string `envconfig:"COMPLETION_BASE_URL"`
	Model        string `envconfig:"COMPLETION_MODEL"`
	APIKeyEnv    string `envconfig:"COMPLETION_API_KEY_ENV"`
	Workers      int    `envconfig:"DISPATCH_WORKERS"`
	Host         string `envconfig:"HOST"`
	Port         int    `envconfig:"PORT"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	OTLPInsecure *bool  `envconfig:"OTLP_INSECURE"`
	OffNotice    string `envconfig:"OFF_NOTICE"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		WhatsApp: WhatsAppConfig{
			StorePath: filepath.Join("auth_info", "whatsapp.db"),
			PrintQR:   true,
			Reconnect: ReconnectConfig{
				InitialIntervalMillis: 500,
				MaxIntervalSeconds:    60,
				Multiplier:            2,
			},
		},
		Completion: CompletionConfig{
			BaseURL:   DefaultCompletionBaseURL,
			Model:     DefaultCompletionModel,
			APIKeyEnv: DefaultAPIKeyEnv,
		},
		Dispatch: DispatchConfig{Workers: DefaultDispatchWorkers, QueueSize: 100},
		Gateway:  GatewayConfig{Host: "0.0.0.0", Port: DefaultGatewayPort},
	}
}

// LoadConfig resolves config.json, unmarshals it over defaults, and applies
// environment overrides. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides injects WABRIDGE_* settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}

	setString(&cfg.WhatsApp.StorePath, env.StorePath)
	setString(&cfg.WhatsApp.QRImagePath, env.QRImagePath)
	if env.PrintQR != nil {
		cfg.WhatsApp.PrintQR = *env.PrintQR
	}
	if env.MaxAttempts != nil {
		cfg.WhatsApp.Reconnect.MaxAttempts = *env.MaxAttempts
	}

	setString(&cfg.Completion.BaseURL, env.BaseURL)
	setString(&cfg.Completion.Model, env.Model)
	setString(&cfg.Completion.APIKeyEnv, env.APIKeyEnv)
	setString(&cfg.Reply.OffNotice, env.OffNotice)

	if env.Workers > 0 {
		cfg.Dispatch.Workers = env.Workers
	}

	setString(&cfg.Gateway.Host, env.Host)
	if env.Port > 0 {
		cfg.Gateway.Port = env.Port
	}

	if endpoint := strings.TrimSpace(env.OTLPEndpoint); endpoint != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = endpoint
	}
	if env.OTLPInsecure != nil {
		cfg.Telemetry.Insecure = *env.OTLPInsecure
	}

	return nil
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is WABRIDGE_CONFIG first, then cwd-local fallback paths. An empty
// result means no file exists and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}

// EnsureDir creates the parent directory of a file path.
func EnsureDir(path string) error {
	dir := filepath.Dir(strings.TrimSpace(path))
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
