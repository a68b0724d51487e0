// Package headless renders pages in headless Chrome and exposes them as live
// crawler.Page handles for locator-based extraction.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Config controls the behavior of the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ProxyServer       string
}

// RenderFunc receives a rendered page. ctx carries the browser tab and must be
// used (or derived from) for every Page call.
type RenderFunc func(ctx context.Context, page crawler.Page, html string) error

// Browser renders pages with chromedp and headless Chrome.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless browser backed by chromedp.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyServer))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// Render navigates to pageURL and hands the rendered page to fn. The tab is
// closed once fn returns.
func (b *Browser) Render(ctx context.Context, pageURL string, headers http.Header, fn RenderFunc) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := b.navigate(taskCtx, pageURL, headers)
	if err != nil {
		return err
	}
	status, _, responseURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	if status >= http.StatusBadRequest {
		return &crawler.StatusError{URL: responseURL, Code: status}
	}
	return fn(taskCtx, &page{tab: taskCtx, url: responseURL}, html)
}

func (b *Browser) navigate(ctx context.Context, pageURL string, headers http.Header) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		b.networkSetupAction(headers),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (b *Browser) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// page implements crawler.Page on an open tab.
type page struct {
	tab context.Context
	url string
}

func (p *page) URL() string {
	return p.url
}

func (p *page) Text(ctx context.Context, selector string) (string, error) {
	ctx, cancel := p.scope(ctx)
	defer cancel()
	var text string
	if err := chromedp.Run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("locator text %q: %w", selector, err)
	}
	return text, nil
}

func (p *page) Attribute(ctx context.Context, selector, key string) (string, bool, error) {
	ctx, cancel := p.scope(ctx)
	defer cancel()
	var (
		value string
		ok    bool
	)
	if err := chromedp.Run(ctx, chromedp.AttributeValue(selector, key, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("locator attribute %q: %w", selector, err)
	}
	return value, ok, nil
}

func (p *page) Scripts(ctx context.Context, selector string) ([]string, error) {
	ctx, cancel := p.scope(ctx)
	defer cancel()
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, fmt.Errorf("quote selector: %w", err)
	}
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(e => e.textContent)`, quoted)
	var texts []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &texts)); err != nil {
		return nil, fmt.Errorf("evaluate scripts %q: %w", selector, err)
	}
	return texts, nil
}

// scope runs on the tab when ctx does not already carry it, keeping ctx's
// deadline.
func (p *page) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	if chromedp.FromContext(ctx) != nil {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(p.tab, deadline)
	}
	return context.WithCancel(p.tab)
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
