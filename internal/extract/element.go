package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Element locates the first element with a tag name whose attributes match.
type Element struct {
	Name  string
	Attrs map[string]string
}

func (e Element) String() string {
	return fmt.Sprintf("%s, %v", e.Name, e.Attrs)
}

// Find returns the first matching element of doc.
func (e Element) Find(doc *goquery.Document) *goquery.Selection {
	if doc == nil {
		return nil
	}
	match := doc.Find(e.Name).FilterFunction(func(_ int, s *goquery.Selection) bool {
		for key, want := range e.Attrs {
			got, ok := s.Attr(key)
			if !ok || !attrMatches(key, got, want) {
				return false
			}
		}
		return true
	}).First()
	if match.Length() == 0 {
		return nil
	}
	return match
}

// AttrFromElement returns the key attribute of the first element matching el.
func AttrFromElement(doc *goquery.Document, pageURL string, el Element, key string, log *zap.Logger) (string, bool) {
	sel := el.Find(doc)
	if sel == nil {
		warnAttr(log, pageURL, el.String(), key)
		return "", false
	}
	value, ok := sel.Attr(key)
	if !ok || value == "" {
		warnAttr(log, pageURL, el.String(), key)
		return "", false
	}
	return value, true
}

// TextFromElement returns the trimmed inner text of the first element
// matching el.
func TextFromElement(doc *goquery.Document, pageURL string, el Element, log *zap.Logger) (string, bool) {
	sel := el.Find(doc)
	if sel == nil {
		warnText(log, pageURL, el.String())
		return "", false
	}
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		warnText(log, pageURL, el.String())
		return "", false
	}
	return text, true
}

// class is a multi-valued attribute; match any of its tokens.
func attrMatches(key, got, want string) bool {
	if key == "class" {
		for _, token := range strings.Fields(got) {
			if token == want {
				return true
			}
		}
		return got == want
	}
	return got == want
}

func warnAttr(log *zap.Logger, pageURL, locator, key string) {
	logger(log).Warn("Can't get attribute value",
		zap.String("key", key),
		zap.String("locator", locator),
		zap.String("url", pageURL),
	)
}

func warnText(log *zap.Logger, pageURL, locator string) {
	logger(log).Warn("Can't get inner text",
		zap.String("locator", locator),
		zap.String("url", pageURL),
	)
}

func logger(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
