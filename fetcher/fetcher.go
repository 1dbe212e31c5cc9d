// Package fetcher turns listing URLs into raw page content, either by a direct
// HTTP request or by rendering the page in a headless browser.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/sirupsen/logrus"
)

// Provider returns the raw markup of a page. Implementations report every
// failure, including challenge pages, as a *FetchError.
type Provider interface {
	Fetch(ctx context.Context, url string) (string, error)
	Name() string
	Close() error
}

// Options configures the concrete providers.
type Options struct {
	UserAgent       string
	AcceptLanguage  string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	WaitSelector    string
	ScrollPasses    int
	ScrollPause     time.Duration
}

// OptionsFromConfig extracts provider options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UserAgent:       cfg.UserAgent,
		AcceptLanguage:  cfg.AcceptLanguage,
		Timeout:         cfg.Timeout,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
		WaitSelector:    cfg.WaitSelector,
		ScrollPasses:    cfg.ScrollPasses,
		ScrollPause:     500 * time.Millisecond,
	}
}

// New builds the provider selected by cfg.Renderer, wrapped in a response
// cache when cfg.CacheSize is positive.
func New(cfg *config.Config, logger logrus.FieldLogger) (Provider, error) {
	logger = orDiscard(logger)
	opts := OptionsFromConfig(cfg)

	var p Provider
	switch cfg.Renderer {
	case config.RendererHTTP:
		p = NewHTTPProvider(opts, logger)
	case config.RendererChromedp:
		p = NewChromedpProvider(opts, logger)
	case config.RendererRod:
		rp, err := NewRodProvider(opts, logger)
		if err != nil {
			return nil, err
		}
		p = rp
	default:
		return nil, fmt.Errorf("unknown renderer %q", cfg.Renderer)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCachedProvider(p, cfg.CacheSize, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		return cached, nil
	}
	return p, nil
}

var blockMarkers = []string{
	"cf-chl-",
	"challenge-platform",
	"px-captcha",
	"Attention Required! | Cloudflare",
	"Pardon Our Interruption",
	"Access Denied</title>",
}

// DetectBlock returns the first bot-challenge marker found in html.
func DetectBlock(html string) (string, bool) {
	for _, marker := range blockMarkers {
		if strings.Contains(html, marker) {
			return marker, true
		}
	}
	return "", false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
