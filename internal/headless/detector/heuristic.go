// Package detector decides when a statically fetched listing page must be
// rendered in a headless browser before extraction.
package detector

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMinBodyBytes is used when NewHeuristic is given a zero threshold.
const DefaultMinBodyBytes = 2048

// scriptShare is the fraction of a short page that, once covered by script
// elements, marks it as client rendered.
const scriptShare = 0.25

// DefaultMarkers identify app-shell pages whose listing content is injected
// by JavaScript.
var DefaultMarkers = []string{
	`id="__next"`,
	`id="__nuxt"`,
	`id="root"`,
	`id="app"`,
	`data-reactroot`,
}

// Heuristic promotes empty pages, app shells and short script-heavy pages.
type Heuristic struct {
	MinBodyBytes int
	Markers      []string
}

// NewHeuristic returns a Heuristic using DefaultMarkers. Pages shorter than
// minBodyBytes are checked for script density.
func NewHeuristic(minBodyBytes int) *Heuristic {
	if minBodyBytes <= 0 {
		minBodyBytes = DefaultMinBodyBytes
	}
	return &Heuristic{MinBodyBytes: minBodyBytes, Markers: DefaultMarkers}
}

// ShouldPromote reports whether a page fetched with status and body needs JS
// rendering. Only 200 responses are ever promoted.
func (h *Heuristic) ShouldPromote(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range h.Markers {
		if bytes.Contains(body, []byte(marker)) {
			return true
		}
	}
	return len(body) < h.MinBodyBytes && scriptCoverage(body) >= scriptShare
}

// scriptCoverage returns the share of body taken up by script elements,
// markup included.
func scriptCoverage(body []byte) float64 {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err == nil {
			covered += len(html)
		}
	})
	return float64(covered) / float64(len(body))
}
