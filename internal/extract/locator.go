package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// DefaultLocatorTimeout bounds each wait on a rendered page.
const DefaultLocatorTimeout = 5 * time.Second

// Page is the rendered-page handle locators run against.
type Page = crawler.Page

// Locator extracts values from rendered pages with a bounded wait.
type Locator struct {
	Timeout time.Duration
	Log     *zap.Logger
}

// TextFromLocator returns the inner text of the element matched by selector.
func (l Locator) TextFromLocator(ctx context.Context, page Page, selector string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()
	text, err := page.Text(ctx, selector)
	if err != nil || text == "" {
		logger(l.Log).Warn("Can't get inner text",
			zap.String("locator", selector),
			zap.String("url", page.URL()),
			zap.Error(err),
		)
		return "", false
	}
	return text, true
}

// AttrFromLocator returns the key attribute of the element matched by selector.
func (l Locator) AttrFromLocator(ctx context.Context, page Page, selector, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()
	value, ok, err := page.Attribute(ctx, selector, key)
	if err != nil || !ok || value == "" {
		logger(l.Log).Warn("Can't get attribute value",
			zap.String("key", key),
			zap.String("locator", selector),
			zap.String("url", page.URL()),
			zap.Error(err),
		)
		return "", false
	}
	return value, true
}

func (l Locator) timeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return DefaultLocatorTimeout
}
