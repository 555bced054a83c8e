package channel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := PreviewText(short); got != "hello" {
		t.Fatalf("PreviewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", previewLimit+20)
	got := PreviewText(long)
	if len(got) != previewLimit+3 {
		t.Fatalf("PreviewText long len = %d, want %d", len(got), previewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("PreviewText long = %q, want ellipsis suffix", got)
	}
}

func TestPreviewTextKeepsRunesWhole(t *testing.T) {
	long := "a" + strings.Repeat("🔥", previewLimit)
	got := PreviewText(long)
	if !utf8.ValidString(got) {
		t.Fatalf("PreviewText produced invalid UTF-8: %q", got)
	}
}

func TestStartTypingRefreshesAndClears(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []bool
	)
	send := func(_ context.Context, composing bool) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, composing)
		return nil
	}

	stop := StartTyping(context.Background(), 5*time.Millisecond, send, nil)
	time.Sleep(30 * time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) < 3 {
		t.Fatalf("calls = %v, want initial send, refreshes and a clear", calls)
	}
	if !calls[0] {
		t.Fatal("first call should start composing")
	}
	if calls[len(calls)-1] {
		t.Fatal("last call should clear composing")
	}
}
