// Package sitemapcrawl runs one sitemap crawl per call: it resolves the
// site's handlers, drives a fresh crawl engine, rebuilds the collected URL
// table from the exported dataset and persists it as CSV and Parquet.
package sitemapcrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/sitemap-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitemap-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/router"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemap"
)

// ErrProxyNotConfigured is returned when the proxy environment variable is
// unset or empty.
var ErrProxyNotConfigured = errors.New("proxy is not configured")

const (
	datasetsDir = "colly/datasets"
	sitemapDir  = "colly/sitemap"

	contentTypeCSV     = "text/csv"
	contentTypeParquet = "application/vnd.apache.parquet"
)

var tracer = otel.Tracer("github.com/JakeFAU/sitemap-crawler/internal/sitemapcrawl")

// Metadata summarizes one crawled sitemap.
type Metadata struct {
	URL           string `json:"url"`
	PostURLsCount int    `json:"post_urls_count"`
}

// Result is the outcome of CrawlSitemap.
type Result struct {
	RunID    string
	Rows     []sitemap.Row
	Metadata []Metadata
}

// EngineFactory builds a fresh engine for one run.
type EngineFactory func(cfg collyfetcher.Config, handler crawler.Handler) (crawler.Engine, error)

// SiteResolver maps a host to its handlers.
type SiteResolver func(host string) (router.Site, error)

// Renderer renders a page in a headless browser.
type Renderer interface {
	Render(ctx context.Context, pageURL string, headers http.Header, fn headless.RenderFunc) error
}

// Detector decides whether a static page needs rendering.
type Detector interface {
	ShouldPromote(status int, body []byte) bool
}

// Config controls the service.
type Config struct {
	// ProxyEnvVar names the environment variable holding the proxy URL.
	ProxyEnvVar string
	// Topic receives run metadata.
	Topic string
	// Engine is the base engine config; run ID, proxies and parser are set
	// per run.
	Engine collyfetcher.Config
	// Retry applies to every engine request.
	Retry crawler.RetryPolicy
	// Sitemap options for the site handlers.
	Sitemap router.Options
	// LocatorTimeout bounds each wait on a rendered page.
	LocatorTimeout time.Duration
}

// Deps are the collaborators of a Service. Blobs, Clock and IDs are required.
type Deps struct {
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Runs      crawler.MetadataStore
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Hasher    crawler.Hasher
	Renderer  Renderer
	Detector  Detector
	Engines   EngineFactory
	Sites     SiteResolver
	LookupEnv func(string) (string, bool)
	Logger    *zap.Logger
}

// Service orchestrates sitemap crawls and single-page extraction.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ProxyEnvVar == "" {
		cfg.ProxyEnvVar = "APIFY_PROXY"
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.LookupEnv == nil {
		deps.LookupEnv = os.LookupEnv
	}
	if deps.Renderer == nil {
		deps.Renderer = headless.NewNoop()
	}
	if deps.Sites == nil {
		clock, opts := deps.Clock, cfg.Sitemap
		deps.Sites = func(host string) (router.Site, error) {
			return router.ForHost(host, clock, opts)
		}
	}
	if deps.Engines == nil {
		retry, blobs, logger := cfg.Retry, deps.Blobs, deps.Logger.Named("engine")
		deps.Engines = func(ec collyfetcher.Config, handler crawler.Handler) (crawler.Engine, error) {
			engine, err := collyfetcher.New(ec, handler, retry, blobs, logger)
			if err != nil {
				return nil, err
			}
			return engine, nil
		}
	}
	return &Service{cfg: cfg, deps: deps, log: deps.Logger}, nil
}

// CrawlSitemap crawls sitemapURL and every matching child sitemap, then
// returns the combined URL table. Every failure is returned wrapped.
func (s *Service) CrawlSitemap(ctx context.Context, sitemapURL string) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "CrawlSitemap", trace.WithAttributes(attribute.String("sitemap.url", sitemapURL)))
	start := time.Now()
	// Runs that never resolve a site are labelled "unknown" so arbitrary
	// input hosts do not become metric labels.
	siteLabel := metrics.UnknownSite
	defer func() {
		status := "succeeded"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveSitemapRun(siteLabel, status, len(result.Rows), time.Since(start))
		span.End()
	}()

	proxyURL, err := s.proxy()
	if err != nil {
		return Result{}, err
	}
	site, err := s.site(sitemapURL)
	if err != nil {
		return Result{}, err
	}
	siteLabel = site.Host
	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("new run id: %w", err)
	}
	dataset := router.SitemapDataset(site.Host)
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("dataset", dataset))
	log := s.log.With(
		zap.String("run_id", runID),
		zap.String("sitemap_url", sitemapURL),
		zap.String("dataset", dataset),
	)
	log.Info("Navigating to sitemap")

	engineCfg := s.cfg.Engine
	engineCfg.RunID = runID
	engineCfg.Parser = crawler.ParserXML
	engineCfg.Proxies = []string{proxyURL}
	engine, err := s.deps.Engines(engineCfg, site.Sitemap)
	if err != nil {
		return Result{}, fmt.Errorf("build engine: %w", err)
	}
	if _, err := engine.Run(ctx, []string{sitemapURL}); err != nil {
		return Result{}, fmt.Errorf("crawl %s: %w", sitemapURL, err)
	}

	rows, err := s.collectRows(ctx, engine, dataset, log)
	if err != nil {
		return Result{}, err
	}
	log.Info(fmt.Sprintf("%d URLs collected from %s", len(rows), sitemapURL))

	checksum, err := s.writeTable(ctx, dataset, rows)
	if err != nil {
		return Result{}, err
	}

	meta := Metadata{URL: sitemapURL, PostURLsCount: len(rows)}
	log.Info("sitemap metadata", zap.String("url", meta.URL), zap.Int("post_urls_count", meta.PostURLsCount))
	run := crawler.RunMetadata{
		RunID:         runID,
		URL:           sitemapURL,
		Dataset:       dataset,
		PostURLsCount: len(rows),
		TableSHA256:   checksum,
		FinishedAt:    s.deps.Clock.Now(),
	}
	if err := s.record(ctx, run, log); err != nil {
		return Result{}, err
	}

	return Result{RunID: runID, Rows: rows, Metadata: []Metadata{meta}}, nil
}

func (s *Service) proxy() (string, error) {
	value, ok := s.deps.LookupEnv(s.cfg.ProxyEnvVar)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrProxyNotConfigured, s.cfg.ProxyEnvVar)
	}
	return strings.TrimSpace(value), nil
}

func (s *Service) site(rawURL string) (router.Site, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return router.Site{}, fmt.Errorf("invalid url %q", rawURL)
	}
	site, err := s.deps.Sites(u.Hostname())
	if err != nil {
		return router.Site{}, fmt.Errorf("resolve site: %w", err)
	}
	return site, nil
}

// collectRows exports the dataset, reads it back and decodes every
// table_data cell. A run that pushed nothing yields no rows.
func (s *Service) collectRows(ctx context.Context, engine crawler.Engine, dataset string, log *zap.Logger) ([]sitemap.Row, error) {
	exportPath := path.Join(datasetsDir, dataset+".csv")
	if _, err := engine.ExportData(ctx, exportPath, dataset); err != nil {
		if errors.Is(err, crawler.ErrDatasetNotFound) {
			log.Warn("crawl pushed no sitemap tables")
			return []sitemap.Row{}, nil
		}
		return nil, fmt.Errorf("export dataset: %w", err)
	}

	rc, err := s.deps.Blobs.GetObject(ctx, exportPath)
	if err != nil {
		return nil, fmt.Errorf("reload dataset: %w", err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			log.Warn("close dataset reader failed", zap.Error(cerr))
		}
	}()
	records, err := crawler.ReadRecordsCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	rows := []sitemap.Row{}
	for _, rec := range records {
		var table []sitemap.Row
		if err := json.Unmarshal([]byte(rec["table_data"]), &table); err != nil {
			return nil, fmt.Errorf("decode table_data of %s: %w", rec["url"], err)
		}
		rows = append(rows, table...)
	}
	return rows, nil
}

// writeTable stores rows as CSV and Parquet and returns the CSV checksum.
func (s *Service) writeTable(ctx context.Context, dataset string, rows []sitemap.Row) (string, error) {
	var csvBuf bytes.Buffer
	if err := sitemap.WriteCSV(&csvBuf, rows); err != nil {
		return "", fmt.Errorf("encode sitemap csv: %w", err)
	}
	checksum, err := s.deps.Hasher.Hash(csvBuf.Bytes())
	if err != nil {
		return "", fmt.Errorf("hash sitemap csv: %w", err)
	}
	if _, err := s.deps.Blobs.PutObject(ctx, path.Join(sitemapDir, dataset+".csv"), contentTypeCSV, &csvBuf); err != nil {
		return "", fmt.Errorf("write sitemap csv: %w", err)
	}

	var pqBuf bytes.Buffer
	if err := sitemap.WriteParquet(&pqBuf, rows); err != nil {
		return "", fmt.Errorf("encode sitemap parquet: %w", err)
	}
	if _, err := s.deps.Blobs.PutObject(ctx, path.Join(sitemapDir, dataset+".pq"), contentTypeParquet, &pqBuf); err != nil {
		return "", fmt.Errorf("write sitemap parquet: %w", err)
	}
	return checksum, nil
}

func (s *Service) record(ctx context.Context, run crawler.RunMetadata, log *zap.Logger) error {
	if s.deps.Runs != nil {
		if err := s.deps.Runs.StoreRun(ctx, run); err != nil {
			return fmt.Errorf("store run metadata: %w", err)
		}
	}
	if s.deps.Publisher != nil {
		id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, run)
		if err != nil {
			return fmt.Errorf("publish run metadata: %w", err)
		}
		log.Debug("run metadata published", zap.String("message_id", id), zap.String("topic", s.cfg.Topic))
	}
	return nil
}
