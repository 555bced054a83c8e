package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wabridge/pkg/channel/whatsapp"
	"wabridge/pkg/completion"
	"wabridge/pkg/settings"
)

const (
	bannerText     = "🔥 wabridge backend is live!"
	botOffReply    = "🤖 Bot is currently turned off."
	maxRequestBody = 1 << 20
)

var errInvalidBody = errors.New("invalid JSON body")

// Handler returns the control surface router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/", s.handleBanner)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/whatsapp/qr", s.handlePairingCode)
		r.Get("/whatsapp/qr.png", s.handlePairingImage)
		r.Get("/whatsapp/status", s.handleSessionStatus)

		r.Get("/bot-status", s.handleGetBotStatus)
		r.Post("/bot-status", s.handleSetBotStatus)

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleUpdateSettings)

		r.Get("/analytics", s.handleAnalytics)
		r.Post("/ai-reply", s.handleAIReply)
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	log = log.With("component", "gateway.http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func (s *Service) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, bannerText)
}

func (s *Service) handlePairingCode(w http.ResponseWriter, _ *http.Request) {
	code, ok := s.session.CurrentPairingCode()
	if !ok {
		s.notReady(w)
		return
	}

	writeJSON(w, s.log, http.StatusOK, map[string]string{"code": code})
}

func (s *Service) handlePairingImage(w http.ResponseWriter, _ *http.Request) {
	code, ok := s.session.CurrentPairingCode()
	if !ok {
		s.notReady(w)
		return
	}

	png, err := whatsapp.EncodePNG(code, whatsapp.DefaultQRSize)
	if err != nil {
		s.log.Error("Failed to render pairing code", "error", err)
		writeJSON(w, s.log, http.StatusInternalServerError, map[string]string{"error": "failed to render pairing code"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Service) notReady(w http.ResponseWriter) {
	writeJSON(w, s.log, http.StatusNotFound, map[string]string{"message": "not ready yet"})
}

func (s *Service) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, map[string]any{"state": s.session.State()})
}

func (s *Service) handleGetBotStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, map[string]bool{"enabled": s.settings.BotEnabled()})
}

func (s *Service) handleSetBotStatus(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	enabled, ok := body["enabled"].(bool)
	if err != nil || !ok {
		writeJSON(w, s.log, http.StatusBadRequest, map[string]string{"error": "enabled must be true or false"})
		return
	}

	s.settings.SetBotEnabled(enabled)
	s.log.Info("Bot toggled", "enabled", enabled)
	writeJSON(w, s.log, http.StatusOK, map[string]bool{"success": true, "enabled": enabled})
}

func (s *Service) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, s.settings.Get())
}

func (s *Service) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		writeJSON(w, s.log, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	updated := s.settings.Apply(settings.Update{
		SavageMode: boolField(body, "savageMode"),
		AutoReply:  boolField(body, "autoReply"),
		BotActive:  boolField(body, "botActive"),
	})
	s.log.Info("Settings updated", "savage_mode", updated.SavageMode, "auto_reply", updated.AutoReply, "bot_active", updated.BotActive)

	writeJSON(w, s.log, http.StatusOK, map[string]any{
		"message":  "Settings updated",
		"settings": updated,
	})
}

func (s *Service) handleAnalytics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, s.counters.Snapshot())
}

func (s *Service) handleAIReply(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	prompt, _ := body["prompt"].(string)
	if err != nil || strings.TrimSpace(prompt) == "" {
		writeJSON(w, s.log, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}

	if !s.settings.BotEnabled() {
		writeJSON(w, s.log, http.StatusOK, map[string]string{"reply": botOffReply})
		return
	}

	ctx := r.Context()
	s.counters.CompletionRequested(ctx)

	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		detail := err.Error()
		var failure *completion.Failure
		if errors.As(err, &failure) {
			detail = failure.Detail
		}
		s.log.Error("Completion request failed", "error", err)
		writeJSON(w, s.log, http.StatusInternalServerError, map[string]string{"error": detail})
		return
	}

	writeJSON(w, s.log, http.StatusOK, map[string]string{"reply": text})
}

// decodeObject reads a JSON object body. An empty body is an empty object.
func decodeObject(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if r.Body == nil {
		return body, nil
	}

	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body)
	switch {
	case errors.Is(err, io.EOF):
		return map[string]any{}, nil
	case err != nil:
		return map[string]any{}, errInvalidBody
	}
	return body, nil
}

func boolField(body map[string]any, key string) *bool {
	value, ok := body[key].(bool)
	if !ok {
		return nil
	}
	return &value
}
