package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-pages/config"
	"github.com/aluiziolira/go-scrape-pages/crawl"
	"github.com/aluiziolira/go-scrape-pages/models"
	"github.com/aluiziolira/go-scrape-pages/pipeline"
	"github.com/aluiziolira/go-scrape-pages/scraper"
	"github.com/aluiziolira/go-scrape-pages/sites"
)

func main() {
	defaultCfg := config.DefaultConfig()
	defaultCfg.StartURL = ""
	if err := config.ApplyEnv(defaultCfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	site := flag.String("site", defaultCfg.Site, "Site preset: "+strings.Join(sites.Names(), ", "))
	schemaFile := flag.String("schema", defaultCfg.SchemaFile, "JSON site definition (overrides -site)")
	startURL := flag.String("start", defaultCfg.StartURL, "Start address (defaults to the site's)")
	maxPages := flag.Int("pages", defaultCfg.MaxPages, "Maximum pages to visit")
	mode := flag.String("mode", defaultCfg.Mode, "Crawl mode: sequential or concurrent")
	workers := flag.Int("workers", defaultCfg.Workers, "Concurrent fetches in concurrent mode")
	tolerate := flag.Bool("tolerate-failures", defaultCfg.TolerateFailures, "Skip failed pages in concurrent mode")
	stream := flag.Bool("stream", defaultCfg.Stream, "Write records page by page as they are extracted")
	delay := flag.Duration("delay", defaultCfg.Delay, "Delay between requests")
	randomDelay := flag.Duration("random-delay", defaultCfg.RandomDelay, "Random jitter added to delay")
	minInterval := flag.Duration("min-interval", defaultCfg.MinInterval, "Minimum spacing between fetch starts")
	timeout := flag.Duration("timeout", defaultCfg.Timeout, "Per-request timeout")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per page")
	retryBackoff := flag.Duration("retry-backoff", defaultCfg.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := flag.Duration("retry-backoff-max", defaultCfg.RetryBackoffMax, "Maximum retry backoff")
	respectRobots := flag.Bool("respect-robots", defaultCfg.RespectRobotsTxt, "Respect robots.txt directives")
	outputFile := flag.String("output", defaultCfg.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	dedupeField := flag.String("dedupe", defaultCfg.DedupeField, "Drop records repeating this field's value")
	verbose := flag.Bool("v", defaultCfg.Verbose, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", defaultCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.Site = *site
	cfg.SchemaFile = *schemaFile
	cfg.StartURL = *startURL
	cfg.MaxPages = *maxPages
	cfg.Mode = strings.ToLower(*mode)
	cfg.Workers = *workers
	cfg.TolerateFailures = *tolerate
	cfg.Stream = *stream
	cfg.Delay = *delay
	cfg.RandomDelay = *randomDelay
	cfg.MinInterval = *minInterval
	cfg.Timeout = *timeout
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = *retryBackoff
	cfg.RetryBackoffMax = *retryBackoffMax
	cfg.RespectRobotsTxt = *respectRobots
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.DedupeField = *dedupeField
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	target, err := resolveSite(cfg)
	if err != nil {
		slog.Error("loading site", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, target); err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// resolveSite picks the schema file or preset and fills in its start address.
func resolveSite(cfg *config.Config) (sites.Site, error) {
	var (
		site sites.Site
		err  error
	)
	if cfg.SchemaFile != "" {
		site, err = sites.Load(cfg.SchemaFile)
	} else {
		site, err = sites.Lookup(cfg.Site)
	}
	if err != nil {
		return sites.Site{}, err
	}
	if cfg.StartURL == "" {
		cfg.StartURL = site.StartURL
	}
	cfg.Site = site.Name
	return site, nil
}

func run(cfg *config.Config, site sites.Site) error {
	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	return execute(ctx, cfg, site, fetcher, metrics)
}

// execute crawls the site with fetcher and writes what it extracted. The
// pipeline outlives ctx so that records gathered before a shutdown signal
// still reach the output.
func execute(ctx context.Context, cfg *config.Config, site sites.Site, fetcher *scraper.Fetcher, metrics *scraper.Metrics) error {
	extractor, navigator, err := site.Build()
	if err != nil {
		return err
	}
	crawler := crawl.New(fetcher, extractor, navigator, crawl.Options{
		Workers:          cfg.Workers,
		MinInterval:      cfg.MinInterval,
		TolerateFailures: cfg.TolerateFailures,
		Metrics:          metrics,
	})

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile, site.Schema.Columns())
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(context.Background(), writer, cfg).Require(site.Required...)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	slog.Info("starting crawl",
		slog.String("site", site.Name),
		slog.String("start", cfg.StartURL),
		slog.String("mode", cfg.Mode),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Workers),
		slog.Bool("stream", cfg.Stream),
	)

	var result *models.CrawlResult
	switch {
	case cfg.Stream:
		result, err = streamPages(ctx, crawler, p, cfg)
	case cfg.Mode == config.ModeConcurrent:
		result, err = crawler.CrawlConcurrent(ctx, cfg.StartURL, cfg.MaxPages)
	default:
		result, err = crawler.Crawl(ctx, cfg.StartURL, cfg.MaxPages)
	}
	if err != nil {
		p.Close()
		return err
	}
	if !cfg.Stream {
		if err := p.Process(result.Records...); err != nil {
			p.Close()
			return fmt.Errorf("queue records: %w", err)
		}
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	printSummary(result, fetcher.Stats(), cfg.OutputFile, p.GetMetrics())

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	if result.Err != nil {
		return fmt.Errorf("crawl ended in state %s: %w", result.FinalState, result.Err)
	}
	return nil
}

// streamPages hands each page's records to the pipeline as soon as the
// page is extracted.
func streamPages(ctx context.Context, crawler *crawl.Crawler, p *pipeline.Pipeline, cfg *config.Config) (*models.CrawlResult, error) {
	var queueErr error
	result, err := crawler.CrawlEach(ctx, cfg.StartURL, cfg.MaxPages, func(page models.Page) bool {
		if page.Err != nil {
			return true
		}
		if err := p.Process(page.Records...); err != nil {
			queueErr = fmt.Errorf("queue page %d: %w", page.Number, err)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if queueErr != nil {
		return nil, queueErr
	}
	return result, nil
}

func createWriter(format, filename string, columns []string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename, columns)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename, columns)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.CrawlResult, stats scraper.Stats, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	written := int64(0)
	if n, ok := metrics["written_records"].(int64); ok {
		written = n
	}
	duration := result.Duration()
	if duration <= 0 {
		duration = time.Since(result.StartTime)
	}
	perSec := 0.0
	if duration.Seconds() > 0 {
		perSec = float64(written) / duration.Seconds()
	}

	fmt.Printf("  Mode:          %s\n", result.Mode)
	fmt.Printf("  Final state:   %s\n", result.FinalState)
	fmt.Printf("  Pages:         %d visited, %d failed\n", result.PagesVisited, result.PagesFailed)
	fmt.Printf("  Records:       %d written\n", written)
	if result.MissingFields > 0 {
		fmt.Printf("  Missing:       %d fields\n", result.MissingFields)
	}
	fmt.Printf("  Requests:      %d\n", stats.Requests)
	fmt.Printf("  Retries:       %d\n", stats.Retries)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(result.FailedURLs) > 0 {
		fmt.Printf("  Failed URLs:   %s\n", strings.Join(result.FailedURLs, ", "))
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Records/sec:   %.2f\n", perSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
