// Package main hosts the sitemap crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /sitemap and POST /page, recent
//     runs, health and metrics. Each request runs its crawl synchronously.
//   - Orchestration: internal/sitemapcrawl resolves the site handlers for the
//     requested host, builds a fresh colly engine per run with the proxy read
//     from APIFY_PROXY, and turns the pushed dataset into the URL table.
//   - Engine: internal/fetcher/colly feeds a colly queue, parses XML or HTML,
//     retries with jittered backoff and exports datasets as CSV.
//   - Persistence & fanout: tables are written as CSV and Parquet to the
//     configured BlobStore (memory/local/GCS). Run metadata goes to Postgres
//     when a DSN is set and is published to Pub/Sub when a topic is set.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported on /metrics;
//     OpenTelemetry spans wrap HTTP handlers, outbound fetches and runs.
//
// Quick checklist:
//   - Configure env vars: APIFY_PROXY, CRAWLER_SERVER_PORT,
//     CRAWLER_CRAWLER_PARALLELISM, CRAWLER_STORAGE_BACKEND, CRAWLER_DB_DSN,
//     CRAWLER_PUBSUB_PROJECT_ID and CRAWLER_PUBSUB_TOPIC_NAME.
//   - Serve: go run ./cmd/sitemapcrawler -config config.yaml
//   - One-shot: go run ./cmd/sitemapcrawler -sitemap https://www.rumah123.com/sitemap-v3/sitemap-ldp-jual.xml
package main
