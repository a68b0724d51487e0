package collyfetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/policy/ratelimit"
)

func fastRetry() crawler.RetryPolicy {
	return crawler.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
}

func TestEngineRunFollowsAddedRequests(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/index.xml":
			fmt.Fprintf(w, `<sitemapindex><sitemap><loc>%[1]s/a.xml</loc></sitemap><sitemap><loc>/b.xml</loc></sitemap><sitemap><loc>%[1]s/a.xml</loc></sitemap></sitemapindex>`, srv.URL)
		default:
			fmt.Fprint(w, `<urlset><url><loc>https://example.com/x</loc></url></urlset>`)
		}
	}))
	t.Cleanup(srv.Close)

	handler := crawler.HandlerFunc(func(_ context.Context, c crawler.Context) error {
		doc := c.XML()
		if doc == nil {
			return fmt.Errorf("no xml document for %s", c.Request().URL)
		}
		var children []string
		for _, n := range xmlquery.Find(doc, "//sitemap/loc") {
			children = append(children, n.InnerText())
		}
		if len(children) > 0 {
			return c.AddRequests(children...)
		}
		c.PushData("leaves", crawler.Record{"url": c.Request().URL})
		return nil
	})

	engine, err := New(Config{RunID: "run-1", Parallelism: 2}, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), []string{srv.URL + "/index.xml"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", stats.RunID)
	assert.Equal(t, 3, stats.PagesSucceeded)
	assert.Zero(t, stats.PagesFailed)

	records, err := engine.Dataset("leaves")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestEngineSendsRequestsThroughProxyAndLimiter(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var (
		mu    sync.Mutex
		hosts []string
	)
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hosts = append(hosts, r.URL.Host)
		mu.Unlock()
		fmt.Fprint(w, `<urlset><url><loc>https://sitemap.test/p</loc></url></urlset>`)
	}))
	t.Cleanup(proxySrv.Close)

	handler := crawler.HandlerFunc(func(_ context.Context, c crawler.Context) error {
		c.PushData("pages", crawler.Record{"url": c.Request().URL})
		return nil
	})
	cfg := Config{
		Proxies: []string{proxySrv.URL},
		Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: 20, DefaultBurst: 1}),
	}
	engine, err := New(cfg, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	start := time.Now()
	stats, err := engine.Run(context.Background(), []string{"http://sitemap.test/a.xml", "http://sitemap.test/b.xml"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PagesSucceeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sitemap.test", "sitemap.test"}, hosts)
}

func TestEngineRetriesServerErrors(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<urlset/>`)
	}))
	t.Cleanup(srv.Close)

	var attempts []int
	var mu sync.Mutex
	handler := crawler.HandlerFunc(func(_ context.Context, c crawler.Context) error {
		mu.Lock()
		attempts = append(attempts, c.Request().Attempt)
		mu.Unlock()
		return nil
	})
	engine, err := New(Config{}, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), []string{srv.URL + "/sitemap.xml"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 1, stats.Retries)
	assert.Equal(t, 1, stats.PagesSucceeded)
	assert.Equal(t, []int{2}, attempts)
}

func TestEngineDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	t.Cleanup(srv.Close)

	handler := crawler.HandlerFunc(func(context.Context, crawler.Context) error {
		t.Error("handler must not run for failed requests")
		return nil
	})
	engine, err := New(Config{}, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), []string{srv.URL + "/missing.xml"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, stats.PagesFailed)
	assert.Zero(t, stats.Retries)
}

func TestEngineRetriesHandlerErrorsUntilExhausted(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<urlset/>`)
	}))
	t.Cleanup(srv.Close)

	var calls atomic.Int32
	handler := crawler.HandlerFunc(func(context.Context, crawler.Context) error {
		calls.Add(1)
		return fmt.Errorf("boom")
	})
	engine, err := New(Config{}, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), []string{srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, 1, stats.PagesFailed)
}

func TestEngineRetriesTruncatedXML(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<urlset><url><loc>https://www.rumah123.com/properti/a</loc></url><url><loc>https://www.rumah`)
	}))
	t.Cleanup(srv.Close)

	var calls atomic.Int32
	handler := crawler.HandlerFunc(func(context.Context, crawler.Context) error {
		calls.Add(1)
		return nil
	})
	engine, err := New(Config{}, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), []string{srv.URL + "/sitemap-ldp-jual-1.xml"})
	require.NoError(t, err)
	assert.Zero(t, calls.Load(), "handler must not see an unparsable document")
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, 1, stats.PagesFailed)
	assert.Zero(t, stats.PagesSucceeded)
}

func TestEngineReadsSitemapsLargerThanCollyDefault(t *testing.T) {
	t.Parallel()
	metrics.Init()

	const entries = 200_000
	var b strings.Builder
	b.WriteString(`<urlset>`)
	for i := range entries {
		fmt.Fprintf(&b, `<url><loc>https://www.rumah123.com/properti/%d</loc></url>`, i)
	}
	b.WriteString(`</urlset>`)
	body := b.String()
	require.Greater(t, len(body), 10<<20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	var found atomic.Int32
	handler := crawler.HandlerFunc(func(_ context.Context, c crawler.Context) error {
		found.Store(int32(len(xmlquery.Find(c.XML(), "//url/loc"))))
		return nil
	})
	engine, err := New(Config{}, handler, fastRetry(), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := engine.Run(context.Background(), []string{srv.URL + "/sitemap-ldp-jual-1.xml"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesSucceeded)
	assert.Equal(t, int32(entries), found.Load())
}

func TestEngineRunsOnce(t *testing.T) {
	t.Parallel()
	metrics.Init()

	engine, err := New(Config{}, crawler.HandlerFunc(func(context.Context, crawler.Context) error { return nil }), nil, nil, nil)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), nil)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestNewRequiresHandler(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	handler := crawler.HandlerFunc(func(context.Context, crawler.Context) error { return nil })
	_, err := New(Config{Proxies: []string{"://bad"}}, handler, nil, nil, nil)
	require.Error(t, err)
}

func TestExportDataWritesCSV(t *testing.T) {
	t.Parallel()

	blobs := &stubBlobStore{}
	handler := crawler.HandlerFunc(func(context.Context, crawler.Context) error { return nil })
	engine, err := New(Config{}, handler, nil, blobs, zaptest.NewLogger(t))
	require.NoError(t, err)
	engine.datasets.Push("sitemap_example.com", crawler.Record{"url": "https://example.com", "table_data": []string{"a"}})

	uri, err := engine.ExportData(context.Background(), "colly/datasets/sitemap_example.com.csv", "sitemap_example.com")
	require.NoError(t, err)
	assert.Equal(t, "mem://colly/datasets/sitemap_example.com.csv", uri)
	assert.Equal(t, "text/csv", blobs.contentType)
	assert.Equal(t, "table_data,url\n"+`"[""a""]",https://example.com`+"\n", blobs.data.String())

	_, err = engine.ExportData(context.Background(), "x.csv", "missing")
	require.ErrorIs(t, err, crawler.ErrDatasetNotFound)
}

func TestConfigureHooksSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	handler := crawler.HandlerFunc(func(context.Context, crawler.Context) error { return nil })
	engine, err := New(Config{}, handler, nil, nil, nil)
	require.NoError(t, err)

	hooks := &stubHooks{}
	engine.configureHooks(context.Background(), hooks)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{URL: mustParseURL(t, "https://example.com/sitemap.xml"), Headers: &http.Header{}}
	hooks.onRequest(req)
	assert.Equal(t, "1", req.Headers.Get("Upgrade-Insecure-Requests"))
	assert.Contains(t, req.Headers.Get("Accept"), "text/html")
	assert.Equal(t, 1, engine.attempt("https://example.com/sitemap.xml"))
}

func TestDecompressGzipBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("<urlset/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out, err := decompress(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "<urlset/>", string(out))

	plain, err := decompress([]byte("<urlset/>"))
	require.NoError(t, err)
	assert.Equal(t, "<urlset/>", string(plain))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubBlobStore struct {
	contentType string
	data        bytes.Buffer
}

func (s *stubBlobStore) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	s.contentType = contentType
	if _, err := io.Copy(&s.data, data); err != nil {
		return "", err
	}
	return "mem://" + path, nil
}

func (s *stubBlobStore) GetObject(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.data.String())), nil
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
