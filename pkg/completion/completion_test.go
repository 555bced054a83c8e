package completion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/pkg/config"
)

const testKeyEnv = "WABRIDGE_TEST_COMPLETION_KEY"

type capturedRequest struct {
	Path          string
	Authorization string
	Referer       string
	Body          struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func newTestGateway(t *testing.T, status int, body string) (*Gateway, *capturedRequest) {
	t.Helper()
	t.Setenv(testKeyEnv, "sk-test")

	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Authorization = r.Header.Get("Authorization")
		captured.Referer = r.Header.Get("HTTP-Referer")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	gw := New(config.CompletionConfig{
		BaseURL:   srv.URL,
		Model:     "openai/gpt-3.5-turbo",
		APIKeyEnv: testKeyEnv,
		Referer:   "https://example.test",
	}, "be brief", nil)
	return gw, captured
}

func chatBody(content string) string {
	return `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"openai/gpt-3.5-turbo",` +
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` +
		mustJSON(content) + `}}]}`
}

func mustJSON(v string) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func TestCompleteSendsPersonaAndPrompt(t *testing.T) {
	gw, captured := newTestGateway(t, http.StatusOK, chatBody("how far"))

	reply, err := gw.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "how far", reply)

	assert.Equal(t, "/chat/completions", captured.Path)
	assert.Equal(t, "Bearer sk-test", captured.Authorization)
	assert.Equal(t, "https://example.test", captured.Referer)
	assert.Equal(t, "openai/gpt-3.5-turbo", captured.Body.Model)
	require.Len(t, captured.Body.Messages, 2)
	assert.Equal(t, "system", captured.Body.Messages[0].Role)
	assert.Equal(t, "be brief", captured.Body.Messages[0].Content)
	assert.Equal(t, "user", captured.Body.Messages[1].Role)
	assert.Equal(t, "hello", captured.Body.Messages[1].Content)
}

func TestCompleteEmptyChoicesReturnsPlaceholder(t *testing.T) {
	gw, _ := newTestGateway(t, http.StatusOK,
		`{"id":"cmpl-1","object":"chat.completion","created":1,"model":"m","choices":[]}`)

	reply, err := gw.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply)
}

func TestCompleteEmptyContentReturnsPlaceholder(t *testing.T) {
	gw, _ := newTestGateway(t, http.StatusOK, chatBody(""))

	reply, err := gw.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply)
}

func TestCompleteFailureKinds(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   Kind
		wantDetail string
	}{
		{
			name:       "error payload on 200",
			status:     http.StatusOK,
			body:       `{"error":{"message":"rate limited","code":429}}`,
			wantKind:   KindUpstream,
			wantDetail: "rate limited",
		},
		{
			name:       "error payload on 429",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"message":"rate limited"}}`,
			wantKind:   KindUpstream,
			wantDetail: "rate limited",
		},
		{
			name:       "unauthorized",
			status:     http.StatusUnauthorized,
			body:       `{"error":{"message":"No auth credentials found"}}`,
			wantKind:   KindAuth,
			wantDetail: "No auth credentials found",
		},
		{
			name:       "server error without payload",
			status:     http.StatusBadGateway,
			body:       `upstream down`,
			wantKind:   KindUpstream,
			wantDetail: "Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, _ := newTestGateway(t, tt.status, tt.body)

			reply, err := gw.Complete(context.Background(), "hello")
			require.Error(t, err)
			assert.Empty(t, reply)

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.Equal(t, tt.wantDetail, f.Detail)
		})
	}
}

func TestCompleteTransportFailure(t *testing.T) {
	t.Setenv(testKeyEnv, "sk-test")
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw := New(config.CompletionConfig{BaseURL: url, APIKeyEnv: testKeyEnv}, "", nil)

	_, err := gw.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport), "err = %v", err)
}

func TestCompleteMissingKeyIsAuthFailure(t *testing.T) {
	t.Setenv(testKeyEnv, "")

	gw := New(config.CompletionConfig{BaseURL: "http://127.0.0.1:1", APIKeyEnv: testKeyEnv}, "", nil)

	_, err := gw.Complete(context.Background(), "hello")
	assert.True(t, IsKind(err, KindAuth), "err = %v", err)
}

func TestNewDefaultsModel(t *testing.T) {
	gw := New(config.CompletionConfig{}, "", nil)
	assert.Equal(t, config.DefaultCompletionModel, gw.model)
}
