package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const jsonLDSelector = `script[type="application/ld+json"]`

var errInvalidJSONLD = errors.New("invalid JSON-LD block")

// JSONLDFromDocument parses every JSON-LD script of a static page. A page
// without scripts yields an empty slice; a single malformed block fails the
// whole page.
func JSONLDFromDocument(doc *goquery.Document, pageURL string, log *zap.Logger) ([]json.RawMessage, bool) {
	if doc == nil {
		warnJSONLD(log, pageURL, errors.New("no document"))
		return nil, false
	}
	var blocks []string
	doc.Find(jsonLDSelector).Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, s.Text())
	})
	return parseJSONLD(blocks, pageURL, log)
}

// JSONLDFromPage parses every JSON-LD script of a rendered page.
func (l Locator) JSONLDFromPage(ctx context.Context, page Page) ([]json.RawMessage, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()
	blocks, err := page.Scripts(ctx, jsonLDSelector)
	if err != nil {
		warnJSONLD(l.Log, page.URL(), err)
		return nil, false
	}
	return parseJSONLD(blocks, page.URL(), l.Log)
}

func parseJSONLD(blocks []string, pageURL string, log *zap.Logger) ([]json.RawMessage, bool) {
	out := make([]json.RawMessage, 0, len(blocks))
	for _, block := range blocks {
		raw := []byte(strings.TrimSpace(block))
		if !json.Valid(raw) {
			warnJSONLD(log, pageURL, errInvalidJSONLD)
			return nil, false
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			warnJSONLD(log, pageURL, err)
			return nil, false
		}
		out = append(out, json.RawMessage(buf.Bytes()))
	}
	return out, true
}

func warnJSONLD(log *zap.Logger, pageURL string, err error) {
	logger(log).Warn("Can't retrieve JSON-LD", zap.String("url", pageURL), zap.Error(err))
}
