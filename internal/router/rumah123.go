package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemap"
)

// Rumah123Sitemap handles both the sitemap index and its leaf sitemaps. The
// index enqueues matching children; a leaf pushes its recent rows as one
// record {url, table_data}.
type Rumah123Sitemap struct {
	Clock   crawler.Clock
	Options Options
	Dataset string
}

// Handle implements crawler.Handler.
func (h *Rumah123Sitemap) Handle(_ context.Context, c crawler.Context) error {
	pageURL := c.Request().URL
	log := c.Log()
	if h.isIndex(pageURL) {
		rows := sitemap.ExtractTable(c.XML(), pageURL, sitemap.Filter{}, log)
		children := sitemap.URLs(rows, h.Options.Marker)
		log.Info("enqueueing child sitemaps", zap.Int("count", len(children)))
		if err := c.AddRequests(children...); err != nil {
			return fmt.Errorf("enqueue child sitemaps: %w", err)
		}
		return nil
	}

	if h.Clock == nil {
		return errors.New("sitemap handler has no clock")
	}
	floor := sitemap.Floor(h.Clock.Now(), h.Options.LookbackDays)
	rows := sitemap.ExtractTable(c.XML(), pageURL, sitemap.Filter{Since: floor}, log)
	log.Info("collected sitemap rows", zap.Int("rows", len(rows)), zap.String("since", floor))
	c.PushData(h.Dataset, crawler.Record{
		"url":        pageURL,
		"table_data": rows,
	})
	return nil
}

func (h *Rumah123Sitemap) isIndex(pageURL string) bool {
	if pageURL == h.Options.IndexURL {
		return true
	}
	got, err := crawler.CanonicalURL(pageURL)
	if err != nil {
		return false
	}
	want, err := crawler.CanonicalURL(h.Options.IndexURL)
	if err != nil {
		return false
	}
	return got == want
}

// Rumah123Listing extracts a listing page into the site's page dataset.
type Rumah123Listing struct {
	Dataset string
}

// Handle implements crawler.Handler.
func (h *Rumah123Listing) Handle(_ context.Context, c crawler.Context) error {
	pageURL := c.Request().URL
	doc := c.HTML()
	if doc == nil {
		return fmt.Errorf("listing %s: no html document", pageURL)
	}
	record := ListingFromDocument(doc, pageURL, c.Log())
	c.PushData(h.Dataset, record.Record())
	return nil
}
