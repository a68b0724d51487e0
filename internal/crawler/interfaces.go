package crawler

import (
	"context"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

// Context is handed to a Handler for every fetched page.
type Context interface {
	// Request returns the request being processed.
	Request() Request
	// XML is the parsed document when the engine runs with ParserXML.
	XML() *xmlquery.Node
	// HTML is the parsed document when the engine runs with ParserHTML.
	HTML() *goquery.Document
	// Body is the raw response body.
	Body() []byte
	// AddRequests enqueues further URLs against the same handler set.
	AddRequests(urls ...string) error
	// PushData appends a record to the named dataset.
	PushData(dataset string, record Record)
	// Log returns a logger scoped to the request.
	Log() *zap.Logger
}

// Handler processes one fetched page. Returned errors are subject to the
// engine's retry policy.
type Handler interface {
	Handle(ctx context.Context, c Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c Context) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, c Context) error {
	return f(ctx, c)
}

// Engine runs a crawl to completion and exports what handlers pushed.
type Engine interface {
	Run(ctx context.Context, startURLs []string) (RunStats, error)
	Dataset(name string) ([]Record, error)
	ExportData(ctx context.Context, path string, dataset string) (string, error)
}

// RetryPolicy decides whether failed requests are attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Page is a live handle on a rendered browser page.
type Page interface {
	URL() string
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector string, key string) (string, bool, error)
	Scripts(ctx context.Context, selector string) ([]string, error)
}

// BlobStore writes and reads exported artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// MetadataStore persists one row per sitemap crawl.
type MetadataStore interface {
	StoreRun(ctx context.Context, meta RunMetadata) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher fingerprints exported files.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
