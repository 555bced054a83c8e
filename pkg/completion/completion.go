// Package completion wraps the OpenAI-compatible chat completion call used to
// answer inbound messages.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"wabridge/pkg/config"
)

// EmptyReply is returned, as a success, when the service produced no usable
// choice.
const EmptyReply = "🤖 No smart reply generated."

// Completer is the narrow interface the reply pipeline and the control
// surface depend on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Gateway sends one system persona plus one user message per call. It never
// retries.
type Gateway struct {
	client  osdk.Client
	model   string
	persona string
	hasKey  bool
	log     *slog.Logger
}

// New builds a gateway from cfg. A missing API key does not fail
// construction; every Complete call then reports an auth failure.
func New(cfg config.CompletionConfig, persona string, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}

	apiKey := resolveAPIKey(cfg)
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(upstreamErrors),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	if referer := strings.TrimSpace(cfg.Referer); referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", referer))
	}
	if cfg.RequestTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = config.DefaultCompletionModel
	}

	return &Gateway{
		client:  osdk.NewClient(opts...),
		model:   model,
		persona: persona,
		hasKey:  apiKey != "",
		log:     log.With("component", "completion"),
	}
}

// Complete returns the first choice's content, EmptyReply when there is none,
// or a *Failure.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	log := g.log.With("operation", "complete", "model", g.model)
	startedAt := time.Now()

	if !g.hasKey {
		f := &Failure{Kind: KindAuth, Detail: "completion API key is not configured"}
		log.Debug("provider request failed", "error", f)
		return "", f
	}

	log.Debug("provider request started", "prompt_length", len(prompt))

	messages := []osdk.ChatCompletionMessageParamUnion{}
	if g.persona != "" {
		messages = append(messages, osdk.SystemMessage(g.persona))
	}
	messages = append(messages, osdk.UserMessage(prompt))

	resp, err := g.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model:    osdk.ChatModel(g.model),
		Messages: messages,
	})
	if err != nil {
		f := classify(err)
		log.Debug("provider request failed",
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"kind", string(f.Kind),
			"error", err,
		)
		return "", f
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		log.Debug("provider request completed without content", "duration_ms", time.Since(startedAt).Milliseconds())
		return EmptyReply, nil
	}

	text := resp.Choices[0].Message.Content
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(text),
	)
	return text, nil
}

func resolveAPIKey(cfg config.CompletionConfig) string {
	name := strings.TrimSpace(cfg.APIKeyEnv)
	if name == "" {
		name = config.DefaultAPIKeyEnv
	}
	return strings.TrimSpace(os.Getenv(name))
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// upstreamErrors turns any response carrying an error payload into a Failure,
// including 200 responses with an "error" object, which OpenRouter sends for
// some provider errors.
func upstreamErrors(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	res, err := next(req)
	if err != nil {
		return res, err
	}

	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, &Failure{Kind: KindTransport, Detail: transportDetail, Err: err}
	}

	var envelope errorEnvelope
	hasPayload := json.Unmarshal(body, &envelope) == nil && envelope.Error != nil

	if hasPayload || res.StatusCode >= http.StatusBadRequest {
		detail := http.StatusText(res.StatusCode)
		if hasPayload && envelope.Error.Message != "" {
			detail = envelope.Error.Message
		}
		kind := KindUpstream
		if res.StatusCode >= http.StatusBadRequest {
			kind = kindForStatus(res.StatusCode)
		}
		return nil, &Failure{
			Kind:   kind,
			Detail: detail,
			Status: res.StatusCode,
			Err:    fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, res.StatusCode),
		}
	}

	res.Body = io.NopCloser(bytes.NewReader(body))
	return res, nil
}
