package router

import (
	"context"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/extract"
)

const defaultSource = "rumah123"

var (
	ogTitle       = metaProperty("og:title")
	ogDescription = metaProperty("og:description")
	ogSiteName    = metaProperty("og:site_name")
	publishedTime = metaProperty("article:published_time")
	metaAuthor    = extract.Element{Name: "meta", Attrs: map[string]string{"name": "author"}}
	textContent   = extract.Element{Name: "div", Attrs: map[string]string{"class": "text-content"}}
	htmlRoot      = extract.Element{Name: "html"}
)

func metaProperty(property string) extract.Element {
	return extract.Element{Name: "meta", Attrs: map[string]string{"property": property}}
}

// ListingFromDocument extracts a listing from a statically fetched page.
// Missing fields are left nil.
func ListingFromDocument(doc *goquery.Document, pageURL string, log *zap.Logger) crawler.PageRecord {
	record := crawler.PageRecord{
		URL:         pageURL,
		Title:       optional(extract.AttrFromElement(doc, pageURL, ogTitle, "content", log)),
		Description: optional(extract.AttrFromElement(doc, pageURL, ogDescription, "content", log)),
		Content:     optional(extract.TextFromElement(doc, pageURL, textContent, log)),
		PublishedAt: optional(extract.AttrFromElement(doc, pageURL, publishedTime, "content", log)),
		Source:      defaultSource,
		Author:      optional(extract.AttrFromElement(doc, pageURL, metaAuthor, "content", log)),
		Language:    optional(extract.AttrFromElement(doc, pageURL, htmlRoot, "lang", log)),
	}
	if source, ok := extract.AttrFromElement(doc, pageURL, ogSiteName, "content", log); ok {
		record.Source = source
	}
	if blocks, ok := extract.JSONLDFromDocument(doc, pageURL, log); ok {
		record.JSONLD = blocks
	}
	return record
}

// ListingFromPage extracts a listing from a rendered page.
func ListingFromPage(ctx context.Context, page crawler.Page, loc extract.Locator) crawler.PageRecord {
	record := crawler.PageRecord{
		URL:         page.URL(),
		Title:       optional(loc.AttrFromLocator(ctx, page, `meta[property="og:title"]`, "content")),
		Description: optional(loc.AttrFromLocator(ctx, page, `meta[property="og:description"]`, "content")),
		Content:     optional(loc.TextFromLocator(ctx, page, "div.text-content")),
		PublishedAt: optional(loc.AttrFromLocator(ctx, page, `meta[property="article:published_time"]`, "content")),
		Source:      defaultSource,
		Author:      optional(loc.AttrFromLocator(ctx, page, `meta[name="author"]`, "content")),
		Language:    optional(loc.AttrFromLocator(ctx, page, "html", "lang")),
		Rendered:    true,
	}
	if source, ok := loc.AttrFromLocator(ctx, page, `meta[property="og:site_name"]`, "content"); ok {
		record.Source = source
	}
	if blocks, ok := loc.JSONLDFromPage(ctx, page); ok {
		record.JSONLD = blocks
	}
	return record
}

func optional(value string, ok bool) *string {
	if !ok {
		return nil
	}
	return &value
}
