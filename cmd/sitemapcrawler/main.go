package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	sitemapURL := flag.String("sitemap", "", "Crawl this sitemap once, print the rows and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	if *sitemapURL != "" {
		os.Exit(runOnce(ctx, app, *sitemapURL))
	}
	if err := app.Run(ctx); err != nil {
		zap.L().Error("application error", zap.Error(err))
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, app *server.App, sitemapURL string) int {
	defer func() {
		if err := app.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "close failed: %v\n", err)
		}
	}()
	result, err := app.Service().CrawlSitemap(ctx, sitemapURL)
	if err != nil {
		zap.L().Error("sitemap crawl failed", zap.String("sitemap_url", sitemapURL), zap.Error(err))
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Rows); err != nil {
		fmt.Fprintf(os.Stderr, "encode rows: %v\n", err)
		return 1
	}
	return 0
}
