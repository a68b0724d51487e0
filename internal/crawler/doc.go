// Package crawler defines the contracts of the sitemap crawl engine: the
// per-page Context handed to route handlers, the append-only datasets those
// handlers push into, the retry policy applied to failed requests, and the
// storage, publishing, clock and identity ports the orchestrator depends on.
//
// Implementations live elsewhere: internal/fetcher/colly runs the engine on
// top of gocolly, internal/fetcher/headless renders pages for locator-based
// extraction, and internal/storage persists exported datasets.
package crawler
