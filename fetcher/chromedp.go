package fetcher

import (
	"context"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// scrollScript scrolls to the bottom and returns the document height so the
// evaluation always yields a value.
const scrollScript = `window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`

// ChromedpProvider renders pages in headless Chrome through the DevTools protocol.
type ChromedpProvider struct {
	opts        Options
	logger      logrus.FieldLogger
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

// NewChromedpProvider prepares a browser allocator. Chrome itself is started
// lazily on the first Fetch.
func NewChromedpProvider(opts Options, logger logrus.FieldLogger) *ChromedpProvider {
	logger = orDiscard(logger)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(opts.UserAgent),
		chromedp.Flag("lang", opts.AcceptLanguage),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &ChromedpProvider{
		opts:        opts,
		logger:      logger,
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
	}
}

// Name implements Provider.
func (c *ChromedpProvider) Name() string {
	return "chromedp"
}

// Fetch implements Provider: navigate, wait for the content marker, scroll
// to trigger lazy loading, then return the realized markup.
func (c *ChromedpProvider) Fetch(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.allocCtx, chromedp.WithLogf(c.logger.Debugf))
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.opts.Timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var html string
	var height int64
	tasks := chromedp.Tasks{chromedp.Navigate(url)}
	if c.opts.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitReady(c.opts.WaitSelector, chromedp.ByQuery))
	}
	for i := 0; i < c.opts.ScrollPasses; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(scrollScript, &height),
			chromedp.Sleep(c.opts.ScrollPause),
		)
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", &FetchError{URL: url, Err: classifyError(err, 0)}
	}
	if marker, blocked := DetectBlock(html); blocked {
		return "", &FetchError{URL: url, Err: ErrBlocked{Marker: marker}}
	}

	c.logger.WithFields(logrus.Fields{"url": url, "bytes": len(html)}).Debug("page rendered")
	return html, nil
}

// Close shuts the browser down.
func (c *ChromedpProvider) Close() error {
	c.cancelAlloc()
	return nil
}
