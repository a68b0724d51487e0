package sitemapcrawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/extract"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/router"
)

// ExtractPage fetches one listing page and extracts it. The page is rendered
// in the headless browser when render is set or when the static body looks
// like a client-rendered app.
func (s *Service) ExtractPage(ctx context.Context, pageURL string, render bool) (record crawler.PageRecord, err error) {
	ctx, span := tracer.Start(ctx, "ExtractPage", trace.WithAttributes(
		attribute.String("page.url", pageURL),
		attribute.Bool("page.render", render),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	site, err := s.site(pageURL)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	log := s.log.With(zap.String("url", pageURL))
	if render {
		return s.renderPage(ctx, pageURL, log)
	}

	record, promote, err := s.fetchPage(ctx, pageURL, site)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	if promote {
		log.Info("static page looks client-rendered, rendering")
		rendered, err := s.renderPage(ctx, pageURL, log)
		if err == nil {
			return rendered, nil
		}
		log.Warn("render failed, keeping static extraction", zap.Error(err))
	}
	metrics.ObservePageExtraction(pageURL, "static")
	return record, nil
}

// fetchPage runs the listing handler through a one-page engine run.
func (s *Service) fetchPage(ctx context.Context, pageURL string, site router.Site) (crawler.PageRecord, bool, error) {
	var (
		mu      sync.Mutex
		promote bool
	)
	handler := crawler.HandlerFunc(func(ctx context.Context, c crawler.Context) error {
		if s.deps.Detector != nil {
			mu.Lock()
			promote = s.deps.Detector.ShouldPromote(http.StatusOK, c.Body())
			mu.Unlock()
		}
		return site.Listing.Handle(ctx, c)
	})

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return crawler.PageRecord{}, false, fmt.Errorf("new run id: %w", err)
	}
	engineCfg := s.cfg.Engine
	engineCfg.RunID = runID
	engineCfg.Parser = crawler.ParserHTML
	engineCfg.Proxies = nil
	if proxyURL, err := s.proxy(); err == nil {
		engineCfg.Proxies = []string{proxyURL}
	}
	engine, err := s.deps.Engines(engineCfg, handler)
	if err != nil {
		return crawler.PageRecord{}, false, fmt.Errorf("build engine: %w", err)
	}
	if _, err := engine.Run(ctx, []string{pageURL}); err != nil {
		return crawler.PageRecord{}, false, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	records, err := engine.Dataset(router.ListingDataset(site.Host))
	if err != nil {
		return crawler.PageRecord{}, false, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if len(records) == 0 {
		return crawler.PageRecord{}, false, fmt.Errorf("fetch %s: %w", pageURL, crawler.ErrDatasetNotFound)
	}
	record, err := pageFromRecord(records[len(records)-1])
	if err != nil {
		return crawler.PageRecord{}, false, err
	}
	mu.Lock()
	defer mu.Unlock()
	return record, promote, nil
}

func (s *Service) renderPage(ctx context.Context, pageURL string, log *zap.Logger) (crawler.PageRecord, error) {
	var record crawler.PageRecord
	loc := extract.Locator{Timeout: s.cfg.LocatorTimeout, Log: log}
	err := s.deps.Renderer.Render(ctx, pageURL, nil, func(ctx context.Context, page crawler.Page, _ string) error {
		record = router.ListingFromPage(ctx, page, loc)
		return nil
	})
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("render %s: %w", pageURL, err)
	}
	metrics.ObservePageExtraction(pageURL, "rendered")
	return record, nil
}

func pageFromRecord(rec crawler.Record) (crawler.PageRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("encode page record: %w", err)
	}
	var page crawler.PageRecord
	if err := json.Unmarshal(data, &page); err != nil {
		return crawler.PageRecord{}, fmt.Errorf("decode page record: %w", err)
	}
	if page.URL == "" {
		return crawler.PageRecord{}, errors.New("page record has no url")
	}
	return page, nil
}
