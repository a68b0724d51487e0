package sitemapcrawl

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitemap-crawler/internal/headless/detector"
)

const listingURL = "http://www.rumah123.com/properti/tangerang-selatan/hos1/"

const listingHTML = `<!doctype html>
<html lang="id">
<head>
  <meta property="og:title" content="Rumah Minimalis di Bintaro">
  <meta property="og:description" content="Rumah 2 lantai siap huni">
  <meta name="author" content="Agen Properti">
  <script type="application/ld+json">{"@type":"Product","offers":{"price":"1500000000"}}</script>
</head>
<body><div class="text-content">Dekat stasiun dan tol.</div><p>Sertifikat hak milik, carport, taman belakang.</p></body>
</html>`

const appShellHTML = `<!doctype html><html><head></head><body><div id="__next"></div><script src="/app.js"></script></body></html>`

type stubPage struct {
	url   string
	attrs map[string]string
	texts map[string]string
}

func (p *stubPage) URL() string { return p.url }

func (p *stubPage) Text(_ context.Context, selector string) (string, error) {
	return p.texts[selector], nil
}

func (p *stubPage) Attribute(_ context.Context, selector, key string) (string, bool, error) {
	v, ok := p.attrs[selector+"@"+key]
	return v, ok, nil
}

func (p *stubPage) Scripts(context.Context, string) ([]string, error) { return nil, nil }

type stubRenderer struct {
	page  *stubPage
	calls []string
}

func (r *stubRenderer) Render(ctx context.Context, pageURL string, _ http.Header, fn headless.RenderFunc) error {
	r.calls = append(r.calls, pageURL)
	return fn(ctx, r.page, "")
}

func renderedPage() *stubPage {
	return &stubPage{
		url:   listingURL,
		attrs: map[string]string{`meta[property="og:title"]@content`: "Rumah dari browser"},
		texts: map[string]string{"div.text-content": "Konten lengkap"},
	}
}

func TestExtractPageStatic(t *testing.T) {
	t.Parallel()

	srv := newSiteProxy(t, map[string]string{"/properti/tangerang-selatan/hos1/": listingHTML})
	renderer := &stubRenderer{page: renderedPage()}
	svc, _ := newTestService(t, srv.URL, func(_ *Config, deps *Deps) {
		deps.Renderer = renderer
		deps.Detector = detector.NewHeuristic(0)
	})

	record, err := svc.ExtractPage(context.Background(), listingURL, false)
	require.NoError(t, err)
	assert.Equal(t, listingURL, record.URL)
	require.NotNil(t, record.Title)
	assert.Equal(t, "Rumah Minimalis di Bintaro", *record.Title)
	require.NotNil(t, record.Language)
	assert.Equal(t, "id", *record.Language)
	assert.Nil(t, record.PublishedAt)
	assert.Equal(t, "rumah123", record.Source)
	assert.Len(t, record.JSONLD, 1)
	assert.False(t, record.Rendered)
	assert.Empty(t, renderer.calls)
}

func TestExtractPagePromotesAppShell(t *testing.T) {
	t.Parallel()

	srv := newSiteProxy(t, map[string]string{"/properti/tangerang-selatan/hos1/": appShellHTML})
	renderer := &stubRenderer{page: renderedPage()}
	svc, _ := newTestService(t, srv.URL, func(_ *Config, deps *Deps) {
		deps.Renderer = renderer
		deps.Detector = detector.NewHeuristic(0)
	})

	record, err := svc.ExtractPage(context.Background(), listingURL, false)
	require.NoError(t, err)
	assert.True(t, record.Rendered)
	require.NotNil(t, record.Title)
	assert.Equal(t, "Rumah dari browser", *record.Title)
	assert.Equal(t, []string{listingURL}, renderer.calls)
}

func TestExtractPageKeepsStaticRecordWhenRenderUnavailable(t *testing.T) {
	t.Parallel()

	srv := newSiteProxy(t, map[string]string{"/properti/tangerang-selatan/hos1/": appShellHTML})
	svc, _ := newTestService(t, srv.URL, func(_ *Config, deps *Deps) {
		deps.Detector = detector.NewHeuristic(0)
	})

	record, err := svc.ExtractPage(context.Background(), listingURL, false)
	require.NoError(t, err)
	assert.False(t, record.Rendered)
	assert.Nil(t, record.Title)
}

func TestExtractPageRenderRequested(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{page: renderedPage()}
	svc, _ := newTestService(t, "", func(_ *Config, deps *Deps) {
		deps.Renderer = renderer
	})

	record, err := svc.ExtractPage(context.Background(), listingURL, true)
	require.NoError(t, err)
	assert.True(t, record.Rendered)
	assert.Equal(t, "Konten lengkap", *record.Content)
}

func TestExtractPageRenderDisabled(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "", nil)
	_, err := svc.ExtractPage(context.Background(), listingURL, true)
	require.ErrorIs(t, err, headless.ErrDisabled)
}

func TestExtractPageNotFound(t *testing.T) {
	t.Parallel()

	srv := newSiteProxy(t, map[string]string{})
	svc, _ := newTestService(t, srv.URL, nil)

	_, err := svc.ExtractPage(context.Background(), listingURL, false)
	require.ErrorIs(t, err, crawler.ErrDatasetNotFound)
}
