package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0, RequestTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{Parallelism: 1, RequestTimeoutSeconds: 1, RunTimeoutSeconds: 5, MaxAttempts: 1},
		Proxy:   config.ProxyConfig{EnvVar: "SITEMAP_CRAWLER_TEST_PROXY_UNSET"},
		Storage: config.StorageConfig{Backend: config.StorageMemory},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	ctx := context.Background()
	app, err := BuildWithLogger(ctx, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(ctx)) })

	require.NotNil(t, app.Service())
	assert.Nil(t, app.pgRuns)
	assert.Nil(t, app.pubsub)
	assert.Nil(t, app.browser)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestBuiltServiceRequiresProxy(t *testing.T) {
	ctx := context.Background()
	app, err := BuildWithLogger(ctx, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(ctx)) })

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"sitemap_url":"https://www.rumah123.com/sitemap-v3/sitemap-ldp-jual.xml"}`)
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sitemap", body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "proxy is not configured")
}

func TestBuildWithLocalStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: config.StorageLocal, LocalDir: t.TempDir() + "/data"}
	ctx := context.Background()
	app, err := BuildWithLogger(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, app.Close(ctx))
}
