// Package sitemap extracts URL tables from sitemap and sitemap-index documents
// and encodes them as CSV or Parquet.
package sitemap

import (
	"slices"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	ahocorasick "github.com/cloudflare/ahocorasick"
	"go.uber.org/zap"
)

const (
	sitemapQuery = "//*[local-name()='sitemap']"
	urlQuery     = "//*[local-name()='url']"
	locQuery     = "./*[local-name()='loc']"
	lastmodQuery = "./*[local-name()='lastmod']"
)

// Row is one <sitemap> or <url> entry.
type Row struct {
	URL          string  `json:"URL" parquet:"url"`
	LastModified *string `json:"Last Modified" parquet:"last_modified,optional"`
}

// Filter narrows extracted rows.
type Filter struct {
	// Exclude drops rows whose URL contains any of these substrings.
	Exclude []string
	// Since is an inclusive ISO date floor. Empty disables date filtering.
	Since string
}

// Floor returns the ISO date `days` days before now.
func Floor(now time.Time, days int) string {
	return now.AddDate(0, 0, -days).Format(time.DateOnly)
}

// ExtractTable reads every <sitemap> element of doc, falling back to <url>
// elements. Rows are filtered by exclusion first and then by date floor; when a
// floor is set, rows without <lastmod> are dropped.
func ExtractTable(doc *xmlquery.Node, pageURL string, filter Filter, log *zap.Logger) []Row {
	if log == nil {
		log = zap.NewNop()
	}
	rows := []Row{}
	if doc == nil {
		log.Error("No URL elements found.", zap.String("url", pageURL))
		return rows
	}
	nodes := xmlquery.Find(doc, sitemapQuery)
	if len(nodes) == 0 {
		nodes = xmlquery.Find(doc, urlQuery)
	}
	if len(nodes) == 0 {
		log.Error("No URL elements found.", zap.String("url", pageURL))
		return rows
	}
	excluded := filter.exclusion()
	for _, node := range nodes {
		row, ok := readRow(node)
		if !ok {
			log.Warn("Sitemap entry without <loc>", zap.String("url", pageURL))
			continue
		}
		if excluded(row.URL) || !filter.admits(row.LastModified) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// URLs returns the URLs of rows containing marker.
func URLs(rows []Row, marker string) []string {
	var out []string
	for _, row := range rows {
		if strings.Contains(row.URL, marker) {
			out = append(out, row.URL)
		}
	}
	return out
}

func readRow(node *xmlquery.Node) (Row, bool) {
	loc := xmlquery.FindOne(node, locQuery)
	if loc == nil {
		return Row{}, false
	}
	row := Row{URL: strings.TrimSpace(loc.InnerText())}
	if lastmod := xmlquery.FindOne(node, lastmodQuery); lastmod != nil {
		value := strings.TrimSpace(lastmod.InnerText())
		row.LastModified = &value
	}
	return row, true
}

// exclusion compiles Exclude into a single-pass matcher. An empty pattern is
// contained in every URL.
func (f Filter) exclusion() func(url string) bool {
	if len(f.Exclude) == 0 {
		return func(string) bool { return false }
	}
	if slices.Contains(f.Exclude, "") {
		return func(string) bool { return true }
	}
	m := ahocorasick.NewStringMatcher(f.Exclude)
	return func(url string) bool {
		return len(m.Match([]byte(url))) > 0
	}
}

func (f Filter) admits(lastModified *string) bool {
	if f.Since == "" {
		return true
	}
	// ISO dates are zero padded, so string order is date order.
	return lastModified != nil && *lastModified >= f.Since
}
