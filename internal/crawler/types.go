package crawler

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrDatasetNotFound is returned when exporting a dataset nothing was pushed to.
var ErrDatasetNotFound = errors.New("dataset not found")

// ErrObjectNotFound is returned by BlobStore.GetObject for unknown paths.
var ErrObjectNotFound = errors.New("object not found")

// Parser selects how fetched bodies are parsed before reaching handlers.
type Parser string

// Supported parsers.
const (
	ParserXML  Parser = "xml"
	ParserHTML Parser = "html"
)

// Request is one unit of work in a crawl run.
type Request struct {
	URL     string
	Attempt int
}

// Record is one dataset entry. Values must be JSON encodable.
type Record map[string]any

// RunStats summarizes a finished engine run.
type RunStats struct {
	RunID          string        `json:"run_id"`
	PagesSucceeded int           `json:"pages_succeeded"`
	PagesFailed    int           `json:"pages_failed"`
	Retries        int           `json:"retries"`
	Duration       time.Duration `json:"duration"`
}

// PageRecord is the structured content extracted from a listing page.
type PageRecord struct {
	URL         string            `json:"url"`
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Content     *string           `json:"content"`
	PublishedAt *string           `json:"publishedAt"`
	Source      string            `json:"source"`
	Author      *string           `json:"author"`
	Language    *string           `json:"language"`
	JSONLD      []json.RawMessage `json:"jsonLd"`
	Rendered    bool              `json:"rendered"`
}

// Record converts the page into a dataset record.
func (p PageRecord) Record() Record {
	return Record{
		"url":         p.URL,
		"title":       p.Title,
		"description": p.Description,
		"content":     p.Content,
		"publishedAt": p.PublishedAt,
		"source":      p.Source,
		"author":      p.Author,
		"language":    p.Language,
		"jsonLd":      p.JSONLD,
		"rendered":    p.Rendered,
	}
}

// RunMetadata is persisted and published once per sitemap crawl.
type RunMetadata struct {
	RunID         string    `json:"run_id"`
	URL           string    `json:"url"`
	Dataset       string    `json:"dataset"`
	PostURLsCount int       `json:"post_urls_count"`
	TableSHA256   string    `json:"table_sha256"`
	FinishedAt    time.Time `json:"finished_at"`
}
