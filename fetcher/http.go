package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const (
	ctxKeyBody   = "body"
	ctxKeyStatus = "status"

	// fetchIDHeader carries the id of the Fetch call a request belongs to. It
	// is stripped before the request leaves the process.
	fetchIDHeader = "X-Catalog-Fetch-Id"
)

// HTTPProvider fetches server-rendered pages with a synchronous colly collector.
type HTTPProvider struct {
	collector *colly.Collector
	transport *boundTransport
	opts      Options
	logger    logrus.FieldLogger
	sleep     func(context.Context, time.Duration) error
}

// NewHTTPProvider builds a provider sending browser-like headers.
func NewHTTPProvider(opts Options, logger logrus.FieldLogger) *HTTPProvider {
	logger = orDiscard(logger)

	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(opts.Timeout)
	collector.IgnoreRobotsTxt = true
	// Error statuses still go through OnResponse so the body can be inspected
	// for challenge pages and the status classified here.
	collector.ParseHTTPErrorResponse = true
	transport := newBoundTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.WithTransport(transport)

	p := &HTTPProvider{
		collector: collector,
		transport: transport,
		opts:      opts,
		logger:    logger,
		sleep:     sleepContext,
	}
	p.configureHandlers()
	return p
}

// WithTransport swaps the round tripper used by the collector. Requests still
// honour the context passed to Fetch.
func (p *HTTPProvider) WithTransport(rt http.RoundTripper) {
	p.transport.next = rt
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return "http"
}

// Close implements Provider.
func (p *HTTPProvider) Close() error {
	return nil
}

func (p *HTTPProvider) configureHandlers() {
	p.collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Encoding", "gzip, br")
		if p.opts.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", p.opts.AcceptLanguage)
		}
	})

	p.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		body := r.Body
		if r.Headers != nil && strings.EqualFold(r.Headers.Get("Content-Encoding"), "br") {
			decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
			if err != nil {
				p.logger.WithError(err).WithField("url", r.Request.URL.String()).Warn("brotli decode failed, keeping raw body")
			} else {
				body = decoded
			}
		}
		r.Ctx.Put(ctxKeyBody, string(body))
	})
}

// Fetch implements Provider. Timeouts, connection failures and 5xx responses
// are retried with capped exponential backoff; other failures are final.
func (p *HTTPProvider) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(p.opts.RetryBackoff, p.opts.RetryBackoffMax, attempt)
			p.logger.WithFields(logrus.Fields{
				"url":        url,
				"attempt":    attempt + 1,
				"delay":      delay,
				"error_type": ErrorType(lastErr),
			}).Warn("retrying request")
			if err := p.sleep(ctx, delay); err != nil {
				return "", &FetchError{URL: url, Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			return "", &FetchError{URL: url, Err: err}
		}

		body, err := p.fetchOnce(ctx, url)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			return "", &FetchError{URL: url, Err: ctxErr}
		}
		if err == nil {
			p.logger.WithFields(logrus.Fields{"url": url, "bytes": len(body)}).Debug("page fetched")
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", &FetchError{URL: url, Err: lastErr}
}

func (p *HTTPProvider) fetchOnce(ctx context.Context, url string) (string, error) {
	id, release := p.transport.bind(ctx)
	defer release()

	headers := http.Header{}
	headers.Set(fetchIDHeader, id)
	reqCtx := colly.NewContext()
	if err := p.collector.Request(http.MethodGet, url, nil, reqCtx, headers); err != nil {
		return "", classifyError(err, 0)
	}

	status, _ := reqCtx.GetAny(ctxKeyStatus).(int)
	body, _ := reqCtx.GetAny(ctxKeyBody).(string)

	if marker, blocked := DetectBlock(body); blocked {
		return "", ErrBlocked{Marker: marker}
	}
	if status >= http.StatusBadRequest {
		return "", classifyError(nil, status)
	}
	if status == 0 {
		return "", fmt.Errorf("no response received")
	}
	return body, nil
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// boundTransport ties each outgoing request to the context of the Fetch call
// that issued it, so cancelling a crawl aborts the request in flight instead
// of waiting for the collector timeout. colly v2.1.0 builds its requests from
// context.Background.
type boundTransport struct {
	next http.RoundTripper

	mu   sync.Mutex
	seq  uint64
	ctxs map[string]context.Context
}

func newBoundTransport(next http.RoundTripper) *boundTransport {
	return &boundTransport{next: next, ctxs: make(map[string]context.Context)}
}

func (t *boundTransport) bind(ctx context.Context) (string, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	id := strconv.FormatUint(t.seq, 10)
	t.ctxs[id] = ctx
	return id, func() {
		t.mu.Lock()
		delete(t.ctxs, id)
		t.mu.Unlock()
	}
}

func (t *boundTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := req.Header.Get(fetchIDHeader)
	t.mu.Lock()
	fetchCtx, ok := t.ctxs[id]
	t.mu.Unlock()
	if id == "" || !ok {
		return t.next.RoundTrip(req)
	}

	// Derived from the request's own context so the client timeout still applies.
	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(fetchCtx, cancel)
	release := func() {
		stop()
		cancel()
	}

	out := req.Clone(ctx)
	out.Header.Del(fetchIDHeader)
	resp, err := t.next.RoundTrip(out)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
