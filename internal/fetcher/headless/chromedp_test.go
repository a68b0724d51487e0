package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	browser, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer browser.Close()
	if cap(browser.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(browser.limiter))
	}
}

func TestBrowserNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	browser := &Browser{}
	if got := browser.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	browser.cfg.NavigationTimeout = time.Second
	if got := browser.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	if len(src["X-Test"]) != 2 {
		t.Fatalf("source header mutated: %+v", src)
	}

	netHeaders := toNetworkHeaders(src)
	switch v := netHeaders["X-Test"].(type) {
	case []string:
		if len(v) != 2 {
			t.Fatalf("expected two entries, got %v", v)
		}
	default:
		t.Fatalf("expected []string, got %T", v)
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 204 || headers.Get("X-Request-ID") != "abc" || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d headers=%v url=%s", status, headers, url)
	}

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestNoopRendererError(t *testing.T) {
	t.Parallel()

	called := false
	err := NewNoop().Render(context.Background(), "https://example.com", nil,
		func(context.Context, crawler.Page, string) error {
			called = true
			return nil
		})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if called {
		t.Fatal("render callback must not run")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	browser := &Browser{limiter: make(chan struct{}, 1)}
	if err := browser.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := browser.acquire(ctx); err == nil {
		t.Fatal("expected second acquire to time out")
	}
	browser.release()
	if err := browser.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestPageScopeKeepsDeadline(t *testing.T) {
	t.Parallel()

	p := &page{tab: context.Background(), url: "https://example.com"}
	deadline := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	scoped, scopedCancel := p.scope(ctx)
	defer scopedCancel()
	got, ok := scoped.Deadline()
	if !ok || !got.Equal(deadline) {
		t.Fatalf("expected deadline %v, got %v (ok=%v)", deadline, got, ok)
	}
	if p.URL() != "https://example.com" {
		t.Fatalf("unexpected url %q", p.URL())
	}
}
