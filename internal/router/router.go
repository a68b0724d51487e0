// Package router holds the closed set of per-site crawl handlers. Sites are
// resolved by host with ForHost; there is no runtime registry.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// ErrUnknownSite is returned for hosts without handlers.
var ErrUnknownSite = errors.New("unknown site")

// Rumah123Host is the only supported site.
const Rumah123Host = "www.rumah123.com"

// Options configure the sitemap handler of a site.
type Options struct {
	// IndexURL is the sitemap index whose children are enqueued.
	IndexURL string
	// Marker selects child sitemaps by substring.
	Marker string
	// LookbackDays sets the date floor for leaf sitemaps.
	LookbackDays int
}

// Rumah123Options are the production options for www.rumah123.com.
func Rumah123Options() Options {
	return Options{
		IndexURL:     "https://www.rumah123.com/sitemap-v3/sitemap-ldp-jual.xml",
		Marker:       "/sitemap-ldp-jual-",
		LookbackDays: 7,
	}
}

// Site bundles the handlers of one host.
type Site struct {
	Host    string
	Sitemap crawler.Handler
	Listing crawler.Handler
}

// SitemapDataset names the dataset sitemap handlers push to.
func SitemapDataset(host string) string {
	return "sitemap_" + host
}

// ListingDataset names the dataset listing handlers push to.
func ListingDataset(host string) string {
	return host
}

// ForHost returns the handlers for host. Zero-valued opts fields fall back to
// the site's production options.
func ForHost(host string, clock crawler.Clock, opts Options) (Site, error) {
	switch strings.ToLower(host) {
	case Rumah123Host:
		return NewRumah123(clock, opts), nil
	default:
		return Site{}, fmt.Errorf("%w: %s", ErrUnknownSite, host)
	}
}

// NewRumah123 builds the rumah123 handler set.
func NewRumah123(clock crawler.Clock, opts Options) Site {
	defaults := Rumah123Options()
	if opts.IndexURL == "" {
		opts.IndexURL = defaults.IndexURL
	}
	if opts.Marker == "" {
		opts.Marker = defaults.Marker
	}
	if opts.LookbackDays == 0 {
		opts.LookbackDays = defaults.LookbackDays
	}
	return Site{
		Host: Rumah123Host,
		Sitemap: &Rumah123Sitemap{
			Clock:   clock,
			Options: opts,
			Dataset: SitemapDataset(Rumah123Host),
		},
		Listing: &Rumah123Listing{Dataset: ListingDataset(Rumah123Host)},
	}
}
