package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/fetcher"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env file is fine; the environment may be set by other means.
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	configPath := flag.String("config", os.Getenv("SCRAPER_CONFIG"), "YAML configuration file")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Category listing URL to crawl")
	homeURL := flag.String("home-url", defaultCfg.HomeURL, "Home page used for category discovery")
	discover := flag.Bool("discover", defaultCfg.Discover, "Discover categories on the home page and crawl them")
	maxCategories := flag.Int("categories", defaultCfg.MaxCategories, "Maximum categories to crawl with -discover")
	maxPages := flag.Int("pages", defaultCfg.MaxPages, "Maximum listing pages per category")
	parallelism := flag.Int("parallel", defaultCfg.Parallelism, "Categories crawled concurrently")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Delay between pages (milliseconds)")
	randomDelayMs := flag.Int("random-delay", int(defaultCfg.RandomDelay/time.Millisecond), "Random jitter added to delay (milliseconds)")
	timeoutMs := flag.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Page fetch timeout (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per page")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	renderer := flag.String("renderer", defaultCfg.Renderer, "Page source: http, chromedp, or rod")
	nextSelector := flag.String("next-selector", defaultCfg.NextSelector, "CSS selector of the next-page link; stop when absent")
	cacheSize := flag.Int("cache-size", defaultCfg.CacheSize, "Response cache entries (0 disables)")
	outputFile := flag.String("output", defaultCfg.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	logFile := flag.String("log-file", defaultCfg.LogFile, "Also write logs to this file")
	metricsAddr := flag.String("metrics-addr", defaultCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	// Flags win, but only the ones given on the command line.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = *baseURL
		case "home-url":
			cfg.HomeURL = *homeURL
		case "discover":
			cfg.Discover = *discover
		case "categories":
			cfg.MaxCategories = *maxCategories
		case "pages":
			cfg.MaxPages = *maxPages
		case "parallel":
			cfg.Parallelism = *parallelism
		case "delay":
			cfg.Delay = time.Duration(*delayMs) * time.Millisecond
		case "random-delay":
			cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
		case "timeout":
			cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
		case "retry-backoff-max":
			cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
		case "renderer":
			cfg.Renderer = strings.ToLower(*renderer)
		case "next-selector":
			cfg.NextSelector = *nextSelector
		case "cache-size":
			cfg.CacheSize = *cacheSize
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "v":
			cfg.Verbose = *verbose
		case "log-file":
			cfg.LogFile = *logFile
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})

	logger, closeLog, err := newLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("invalid configuration")
		return 1
	}

	provider, err := fetcher.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("initialising page source")
		return 1
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.WithError(err).Warn("close page source")
		}
	}()

	s, err := scraper.NewScraper(cfg, provider, logger)
	if err != nil {
		logger.WithError(err).Error("initialising scraper")
		return 1
	}

	sink, err := pipeline.NewSinkFromConfig(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("creating output sink")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, keeping records gathered so far")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics server enabled")
	}

	logger.WithFields(logrus.Fields{
		"base_url": cfg.BaseURL,
		"discover": cfg.Discover,
		"pages":    cfg.MaxPages,
		"renderer": provider.Name(),
	}).Info("starting scrape")

	startTime := time.Now()
	var summary *models.RunSummary
	if cfg.Discover {
		categories, err := s.DiscoverCategories(ctx, cfg.HomeURL)
		if err != nil {
			logger.WithError(err).Error("category discovery failed")
			return 1
		}
		summary = s.CrawlCategories(ctx, categories, sink)
	} else {
		session, err := s.Crawl(ctx, cfg.BaseURL, cfg.MaxPages)
		if err != nil {
			logger.WithError(err).Error("scraping failed")
			return 1
		}
		sink.Append(session.Records...)
		summary = s.Summary(startTime, session)
	}
	logger.WithField("records", sink.Count()).Info("scrape finished")

	exitCode := 0
	if err := sink.Flush(); err != nil {
		logger.WithError(err).Error("output not persisted")
		exitCode = 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("metrics server shutdown failed")
		}
		cancel()
	}

	printSummary(summary, cfg, exitCode == 0)
	return exitCode
}

func printSummary(summary *models.RunSummary, cfg *config.Config, written bool) {
	separator := "--------------------------------------------------"
	duration := summary.EndTime.Sub(summary.StartTime)
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(summary.TotalCount) / duration.Seconds()
	}

	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Total items:   %d\n", summary.TotalCount)
	fmt.Printf("  Pages:         %d\n", summary.PageCount)
	for _, session := range summary.Sessions {
		name := session.Category
		if name == "" {
			name = session.BaseURL
		}
		fmt.Printf("  %-14s %d records, %d pages, stopped: %s\n", name+":", len(session.Records), len(session.Pages), session.Reason)
		if counts := session.StrategyCounts(); len(counts) > 0 {
			fmt.Printf("  %-14s %s\n", "", formatCounts(counts))
		}
	}
	fmt.Printf("  Failed URLs:   %d\n", len(summary.FailedURLs))
	if len(summary.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %s\n", formatCounts(summary.ErrorsByType))
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	if written {
		fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	} else {
		fmt.Printf("  Output file:   %s (not written)\n", cfg.OutputFile)
	}
	fmt.Println(separator)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

// newLogger writes text to a terminal and JSON otherwise. LOG_LEVEL overrides
// the level chosen by -v.
func newLogger(verbose bool, logFile string) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if raw, ok := config.EnvString("LOG_LEVEL"); ok {
		level, err := logrus.ParseLevel(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		logger.SetLevel(level)
	}

	if isTerminal(os.Stdout) {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	closeFn := func() {}
	var out io.Writer = os.Stdout
	if logFile != "" {
		if dir := filepath.Dir(logFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}
	logger.SetOutput(out)

	return logger, closeFn, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
