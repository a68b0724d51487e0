package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

const robotsAllowAll = "User-agent: *\nAllow: /"

// reasonTLSHandshake is recorded when robots.txt could not be fetched because
// the proxy kept timing out the handshake.
const reasonTLSHandshake = "TLS handshake timeout"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport retries robots.txt fetches that time out and, once the
// retries are spent, answers with an allow-all file so colly keeps crawling.
// Every other request passes straight through.
type robotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	fallback map[string]string
}

func newRobotsTransport(base http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsTransport{
		base:     base,
		backoff:  defaultRobotsBackoff,
		logger:   logger,
		fallback: make(map[string]string),
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req) //nolint:wrapcheck // pass-through
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isHandshakeTimeout(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt >= len(t.backoff) {
			t.allowAll(req.URL.Host)
			return allowAllResponse(req), nil
		}
		if err := sleep(req.Context(), t.backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

// Fallback reports whether host was served the synthetic allow-all file and why.
func (t *robotsTransport) Fallback(host string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reason, ok := t.fallback[host]
	return reason, ok
}

func (t *robotsTransport) allowAll(host string) {
	t.mu.Lock()
	_, seen := t.fallback[host]
	t.fallback[host] = reasonTLSHandshake
	t.mu.Unlock()
	if seen {
		return
	}
	t.logger.Warn("robots.txt unreachable, allowing all paths",
		zap.String("host", host),
		zap.String("reason", reasonTLSHandshake),
	)
	metrics.ObserveProbeTLSHandshakeTimeout()
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isHandshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
