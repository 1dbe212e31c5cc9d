package fetcher

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// RodProvider renders pages in a headless Chromium driven by rod.
type RodProvider struct {
	browser *rod.Browser
	opts    Options
	logger  logrus.FieldLogger
}

// NewRodProvider launches the browser and connects to it.
func NewRodProvider(opts Options, logger logrus.FieldLogger) (*RodProvider, error) {
	logger = orDiscard(logger)

	controlURL, err := launcher.New().
		Headless(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	return &RodProvider{
		browser: browser,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Name implements Provider.
func (r *RodProvider) Name() string {
	return "rod"
}

// Fetch implements Provider.
func (r *RodProvider) Fetch(ctx context.Context, url string) (string, error) {
	pageCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	html, err := r.render(pageCtx, url)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", &FetchError{URL: url, Err: classifyError(err, 0)}
	}
	if marker, blocked := DetectBlock(html); blocked {
		return "", &FetchError{URL: url, Err: ErrBlocked{Marker: marker}}
	}

	r.logger.WithFields(logrus.Fields{"url": url, "bytes": len(html)}).Debug("page rendered")
	return html, nil
}

func (r *RodProvider) render(ctx context.Context, url string) (string, error) {
	page, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      r.opts.UserAgent,
		AcceptLanguage: r.opts.AcceptLanguage,
	}); err != nil {
		return "", fmt.Errorf("set user agent: %w", err)
	}
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if r.opts.WaitSelector != "" {
		if _, err := page.Element(r.opts.WaitSelector); err != nil {
			return "", fmt.Errorf("wait for %s: %w", r.opts.WaitSelector, err)
		}
	}
	for i := 0; i < r.opts.ScrollPasses; i++ {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return "", fmt.Errorf("scroll: %w", err)
		}
		if err := sleepContext(ctx, r.opts.ScrollPause); err != nil {
			return "", err
		}
	}

	return page.HTML()
}

// Close shuts the browser down.
func (r *RodProvider) Close() error {
	return r.browser.Close()
}
