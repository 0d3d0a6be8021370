package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	renderer, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer renderer.Close()
	if cap(renderer.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(renderer.limiter))
	}
	if renderer.cfg.Settle != defaultSettle {
		t.Fatalf("expected default settle, got %v", renderer.cfg.Settle)
	}
}

func TestRendererNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	renderer := &Renderer{}
	if got := renderer.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	renderer.cfg.NavigationTimeout = time.Second
	if got := renderer.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	renderer := &Renderer{limiter: make(chan struct{}, 1)}
	if err := renderer.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := renderer.acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	renderer.release()
	if err := renderer.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestToCookieParams(t *testing.T) {
	t.Parallel()

	params := toCookieParams("https://lms.example.com/course", []*http.Cookie{
		{Name: "session", Value: "abc", Path: "/", HttpOnly: true},
		nil,
		{Name: ""},
	})
	if len(params) != 1 {
		t.Fatalf("expected one cookie param, got %d", len(params))
	}
	p := params[0]
	if p.Name != "session" || p.Value != "abc" || p.URL != "https://lms.example.com/course" || !p.HTTPOnly {
		t.Fatalf("unexpected cookie param: %+v", p)
	}
}

func TestResponseMetaCapture(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	if _, _, ok := meta.snapshot(); ok {
		t.Fatal("expected empty snapshot")
	}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/a.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/rendered"},
	})
	status, url, ok := meta.snapshot()
	if !ok || status != 200 || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot: status=%d url=%s", status, url)
	}
}

func TestAllocatorOptionsHeadlessToggle(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(Config{Headless: true}))
	if got := len(allocatorOptions(Config{Headless: true, ExecPath: "/usr/bin/chromium"})); got != base+1 {
		t.Fatalf("expected exec path option appended, got %d options vs %d", got, base)
	}
}

func TestNoopRendererError(t *testing.T) {
	t.Parallel()

	renderer := NewNoop()
	defer renderer.Close()
	if err := renderer.PrintPDF(context.Background(), "https://example.com", nil, "out.pdf"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
