// Package api hosts the HTTP server, middleware, and REST handlers that
// trigger crawls. Notable routes:
//   - POST /sitemap runs one sitemap crawl and returns the collected rows.
//   - POST /page extracts one listing page.
//   - GET /runs lists recent sitemap runs.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
