// Package collyfetcher runs crawl.Engine on top of gocolly: a colly queue feeds
// a synchronous collector, responses are parsed as XML or HTML and handed to a
// route handler, and records pushed by handlers are kept per run and exported
// as CSV.
package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"
	"github.com/gocolly/colly/v2/queue"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/policy/ratelimit"
)

// ChromeUserAgent is sent when no user agent is configured.
const ChromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/124.0.0.0 Safari/537.36"

// Headers Chrome sends on a top-level navigation.
var browserHeaders = http.Header{
	"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
	"Accept-Language":           {"en-US,en;q=0.9,id;q=0.8"},
	"Sec-Ch-Ua":                 {`"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`},
	"Sec-Ch-Ua-Mobile":          {"?0"},
	"Sec-Ch-Ua-Platform":        {`"Windows"`},
	"Sec-Fetch-Dest":            {"document"},
	"Sec-Fetch-Mode":            {"navigate"},
	"Sec-Fetch-Site":            {"none"},
	"Upgrade-Insecure-Requests": {"1"},
}

// Config controls one engine run.
type Config struct {
	RunID          string
	UserAgent      string
	Parser         crawler.Parser
	RequestTimeout time.Duration
	RunTimeout     time.Duration
	Parallelism    int
	QueueSize      int
	Proxies        []string
	RespectRobots  bool
	// Limiter throttles requests per host. It is shared across runs; nil
	// disables throttling.
	Limiter *ratelimit.Limiter
}

// Engine implements crawler.Engine. An Engine runs once; build a new one per
// crawl.
type Engine struct {
	cfg       Config
	handler   crawler.Handler
	retry     crawler.RetryPolicy
	blobs     crawler.BlobStore
	logger    *zap.Logger
	datasets  *crawler.DatasetStore
	transport http.RoundTripper

	mu       sync.Mutex
	ran      bool
	queue    *queue.Queue
	seen     map[string]struct{}
	attempts map[string]int
	stats    crawler.RunStats
}

// New builds an Engine that routes every page to handler.
func New(
	cfg Config,
	handler crawler.Handler,
	retry crawler.RetryPolicy,
	blobs crawler.BlobStore,
	logger *zap.Logger,
) (*Engine, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Parser == "" {
		cfg.Parser = crawler.ParserXML
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = ChromeUserAgent
	}

	base := newHTTPTransport()
	if len(cfg.Proxies) > 0 {
		proxyFunc, err := proxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxies: %w", err)
		}
		base.Proxy = proxyFunc
	}
	var transport http.RoundTripper = base
	if cfg.RespectRobots {
		transport = newRobotsTransport(base, logger)
	}
	if cfg.Limiter != nil {
		transport = cfg.Limiter.Transport(transport)
	}
	transport = otelhttp.NewTransport(transport)

	return &Engine{
		cfg:       cfg,
		handler:   handler,
		retry:     retry,
		blobs:     blobs,
		logger:    logger.With(zap.String("run_id", cfg.RunID)),
		datasets:  crawler.NewDatasetStore(),
		transport: transport,
		seen:      make(map[string]struct{}),
		attempts:  make(map[string]int),
	}, nil
}

// Run crawls from startURLs until the queue drains, the run timeout elapses
// or ctx is canceled.
func (e *Engine) Run(ctx context.Context, startURLs []string) (crawler.RunStats, error) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return crawler.RunStats{}, errors.New("engine already ran")
	}
	e.ran = true
	e.mu.Unlock()

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	q, err := queue.New(e.cfg.Parallelism, &queue.InMemoryQueueStorage{MaxSize: e.cfg.QueueSize})
	if err != nil {
		return crawler.RunStats{}, fmt.Errorf("create request queue: %w", err)
	}
	e.queue = q
	for _, raw := range startURLs {
		if err := e.enqueue(raw); err != nil {
			return crawler.RunStats{}, err
		}
	}

	start := time.Now()
	e.logger.Info("crawl run started", zap.Strings("start_urls", startURLs))
	if err := q.Run(e.newCollector(ctx)); err != nil {
		return e.snapshot(start), fmt.Errorf("run request queue: %w", err)
	}
	stats := e.snapshot(start)
	e.logger.Info("crawl run finished",
		zap.Int("succeeded", stats.PagesSucceeded),
		zap.Int("failed", stats.PagesFailed),
		zap.Int("retries", stats.Retries),
		zap.Duration("duration", stats.Duration),
	)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("crawl run interrupted: %w", err)
	}
	return stats, nil
}

// Dataset returns the records pushed to the named dataset.
func (e *Engine) Dataset(name string) ([]crawler.Record, error) {
	records, err := e.datasets.Records(name)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return records, nil
}

// ExportData writes the named dataset as CSV to the blob store.
func (e *Engine) ExportData(ctx context.Context, path string, dataset string) (string, error) {
	if e.blobs == nil {
		return "", errors.New("blob store is not configured")
	}
	records, err := e.Dataset(dataset)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := crawler.WriteRecordsCSV(&buf, records); err != nil {
		return "", fmt.Errorf("encode dataset %s: %w", dataset, err)
	}
	uri, err := e.blobs.PutObject(ctx, path, "text/csv", &buf)
	if err != nil {
		return "", fmt.Errorf("export dataset %s: %w", dataset, err)
	}
	e.logger.Info("dataset exported",
		zap.String("dataset", dataset),
		zap.Int("records", len(records)),
		zap.String("uri", uri),
	)
	return uri, nil
}

func (e *Engine) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(e.cfg.UserAgent),
		colly.StdlibContext(ctx),
	)
	// Revisits are needed for retries; enqueue dedupes instead.
	c.AllowURLRevisit = true
	c.MaxBodySize = maxBodyBytes
	c.IgnoreRobotsTxt = !e.cfg.RespectRobots
	c.WithTransport(e.transport)
	timeout := e.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	e.configureHooks(ctx, c)
	return c
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (e *Engine) configureHooks(ctx context.Context, hooks collectorHooks) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range browserHeaders {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
		e.mu.Lock()
		e.attempts[r.URL.String()]++
		e.mu.Unlock()
	})
	hooks.OnResponse(func(r *colly.Response) {
		e.handleResponse(ctx, r)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r.StatusCode >= http.StatusBadRequest {
			err = &crawler.StatusError{URL: r.Request.URL.String(), Code: r.StatusCode}
		}
		e.fail(ctx, r.Request.URL.String(), err)
	})
}

func (e *Engine) handleResponse(ctx context.Context, r *colly.Response) {
	pageURL := r.Request.URL.String()
	body, err := decompress(r.Body)
	if err != nil {
		e.fail(ctx, pageURL, err)
		return
	}
	pc := &pageContext{
		engine: e,
		req:    crawler.Request{URL: pageURL, Attempt: e.attempt(pageURL)},
		base:   r.Request.URL,
		body:   body,
		log:    e.logger.With(zap.String("url", pageURL)),
	}
	switch e.cfg.Parser {
	case crawler.ParserHTML:
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			e.fail(ctx, pageURL, fmt.Errorf("parse html: %w", err))
			return
		}
		pc.html = doc
	default:
		doc, err := xmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			e.fail(ctx, pageURL, fmt.Errorf("parse xml: %w", err))
			return
		}
		pc.xml = doc
	}

	pc.log.Info("Navigating", zap.Int("attempt", pc.req.Attempt))
	if err := e.handler.Handle(ctx, pc); err != nil {
		pc.log.Warn("handler failed", zap.Error(err))
		e.fail(ctx, pageURL, err)
		return
	}
	e.mu.Lock()
	e.stats.PagesSucceeded++
	e.mu.Unlock()
	metrics.ObserveCrawl(pageURL, "succeeded", len(body))
}

// fail retries pageURL when the policy allows, otherwise records the failure.
func (e *Engine) fail(ctx context.Context, pageURL string, err error) {
	attempt := e.attempt(pageURL)
	if e.retry.ShouldRetry(err, attempt) {
		e.mu.Lock()
		e.stats.Retries++
		e.mu.Unlock()
		e.logger.Warn("request failed, retrying",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := sleep(ctx, e.retry.Backoff(attempt)); sleepErr == nil {
			if qErr := e.queue.AddURL(pageURL); qErr == nil {
				return
			}
		}
	}
	e.mu.Lock()
	e.stats.PagesFailed++
	e.mu.Unlock()
	metrics.ObserveCrawl(pageURL, "failed", 0)
	e.logger.Error("request failed",
		zap.String("url", pageURL),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
}

func (e *Engine) enqueue(raw string) error {
	normalized, err := crawler.CanonicalURL(raw)
	if err != nil {
		return fmt.Errorf("enqueue %q: %w", raw, err)
	}
	e.mu.Lock()
	if _, ok := e.seen[normalized]; ok {
		e.mu.Unlock()
		return nil
	}
	e.seen[normalized] = struct{}{}
	e.mu.Unlock()
	if err := e.queue.AddURL(raw); err != nil {
		return fmt.Errorf("enqueue %q: %w", raw, err)
	}
	return nil
}

func (e *Engine) attempt(pageURL string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[pageURL]
}

func (e *Engine) snapshot(start time.Time) crawler.RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	stats.RunID = e.cfg.RunID
	stats.Duration = time.Since(start)
	return stats
}

// pageContext implements crawler.Context for one response.
type pageContext struct {
	engine *Engine
	req    crawler.Request
	base   *url.URL
	body   []byte
	xml    *xmlquery.Node
	html   *goquery.Document
	log    *zap.Logger
}

func (c *pageContext) Request() crawler.Request  { return c.req }
func (c *pageContext) XML() *xmlquery.Node       { return c.xml }
func (c *pageContext) HTML() *goquery.Document   { return c.html }
func (c *pageContext) Body() []byte              { return c.body }
func (c *pageContext) Log() *zap.Logger          { return c.log }
func (c *pageContext) PushData(dataset string, record crawler.Record) {
	c.engine.datasets.Push(dataset, record)
}

// AddRequests resolves urls against the current page and enqueues them.
func (c *pageContext) AddRequests(urls ...string) error {
	for _, raw := range urls {
		ref, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse %q: %w", raw, err)
		}
		if err := c.engine.enqueue(c.base.ResolveReference(ref).String()); err != nil {
			return err
		}
	}
	return nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// maxBodyBytes covers the 50 MB uncompressed ceiling of a sitemap file with
// headroom; colly's 10 MiB default truncates large leaves.
const maxBodyBytes = 64 << 20

// decompress unwraps .xml.gz sitemaps served without Content-Encoding.
func decompress(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip body: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip body: %w", err)
	}
	return out, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
