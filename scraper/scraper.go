// Package scraper drives paginated crawls of catalog listings: it derives
// page URLs, pulls content through a fetcher.Provider, hands it to the
// parser chain and decides when a session stops.
package scraper

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/fetcher"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// RecordSink receives the records of every finished session. It must be safe
// for concurrent use.
type RecordSink interface {
	Append(records ...models.Record)
}

// Scraper runs crawl sessions against a page source.
type Scraper struct {
	cfg      *config.Config
	provider fetcher.Provider
	chain    *parser.Chain
	logger   logrus.FieldLogger
	Metrics  *Metrics

	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// NewScraper builds a scraper reading pages from provider.
func NewScraper(cfg *config.Config, provider fetcher.Provider, logger logrus.FieldLogger) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("page source provider is required")
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Scraper{
		cfg:          cfg,
		provider:     provider,
		chain:        parser.DefaultChain(cfg.DataElementID, logger),
		logger:       logger,
		Metrics:      NewMetrics(),
		sleep:        sleepContext,
		jitter:       randomJitter,
		errorsByType: make(map[string]int),
	}, nil
}

// WithChain replaces the extraction chain.
func (s *Scraper) WithChain(chain *parser.Chain) *Scraper {
	s.chain = chain
	return s
}

// Crawl walks baseURL page by page, at most maxPages pages, and returns the
// session once it stops. The error is reserved for invalid arguments; fetch
// failures and cancellation end the session with the records gathered so far.
func (s *Scraper) Crawl(ctx context.Context, baseURL string, maxPages int) (*models.Session, error) {
	if err := config.ValidateListingURL(baseURL); err != nil {
		return nil, err
	}
	if maxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive, got %d", maxPages)
	}
	return s.crawl(ctx, baseURL, maxPages, ""), nil
}

func (s *Scraper) crawl(ctx context.Context, baseURL string, maxPages int, category string) *models.Session {
	session := models.NewSession(baseURL, category)
	log := s.logger.WithField("base_url", baseURL)
	if category != "" {
		log = log.WithField("category", category)
	}
	log.WithFields(logrus.Fields{
		"max_pages": maxPages,
		"source":    s.provider.Name(),
	}).Info("crawl started")

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			session.Finish(models.ReasonCanceled, err)
			break
		}

		pageURL, err := PageURL(baseURL, page, s.cfg.PageParam)
		if err != nil {
			s.recordFailure(baseURL, "other")
			session.Finish(models.ReasonFetchFailed, err)
			break
		}
		plog := log.WithFields(logrus.Fields{"page": page, "url": pageURL})

		start := time.Now()
		content, err := s.provider.Fetch(ctx, pageURL)
		s.Metrics.ObserveFetch(time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				plog.WithError(err).Warn("crawl interrupted, discarding in-flight page")
				s.Metrics.IncPage("canceled")
				session.Finish(models.ReasonCanceled, ctx.Err())
				break
			}
			errType := fetcher.ErrorType(err)
			s.recordFailure(pageURL, errType)
			s.Metrics.IncPage("fetch_failed")
			plog.WithError(err).WithField("error_type", errType).Error("page fetch failed, stopping crawl")
			session.Finish(models.ReasonFetchFailed, err)
			break
		}

		result := s.extract(pageURL, page, content, category)
		if len(result.Records) == 0 {
			s.Metrics.IncPage("empty")
			plog.Info("no records on page, listing exhausted")
			session.Finish(models.ReasonExhausted, nil)
			break
		}

		session.Append(result)
		s.Metrics.IncPage("ok")
		s.Metrics.AddItems(result.Strategy, len(result.Records))
		plog.WithFields(logrus.Fields{
			"strategy": result.Strategy,
			"records":  len(result.Records),
			"total":    len(session.Records),
		}).Info("page processed")

		if s.cfg.NextSelector != "" && !result.HasNext {
			session.Finish(models.ReasonLastPage, nil)
			break
		}
		if page == maxPages {
			session.Finish(models.ReasonMaxPages, nil)
			break
		}
		if err := s.wait(ctx); err != nil {
			session.Finish(models.ReasonCanceled, err)
			break
		}
	}

	s.Metrics.IncSession(string(session.Reason))

	fields := logrus.Fields{
		"reason":  session.Reason,
		"records": len(session.Records),
		"pages":   len(session.Pages),
	}
	if session.Err != nil {
		log.WithFields(fields).WithError(session.Err).Warn("crawl finished early")
	} else {
		log.WithFields(fields).Info("crawl finished")
	}
	return session
}

func (s *Scraper) extract(pageURL string, index int, content, category string) models.PageResult {
	result := models.PageResult{Page: index, URL: pageURL, HasNext: true}

	page, err := parser.NewPage(pageURL, content)
	if err != nil {
		s.logger.WithError(err).WithField("url", pageURL).Warn("unusable page url")
		return result
	}

	out := s.chain.Extract(page)
	result.Strategy = out.Strategy
	result.Records = out.Records
	for i := range result.Records {
		result.Records[i].Category = category
	}
	if s.cfg.NextSelector != "" {
		result.HasNext = page.HasNextLink(s.cfg.NextSelector)
	}
	return result
}

func (s *Scraper) wait(ctx context.Context) error {
	d := s.cfg.Delay + s.jitter(s.cfg.RandomDelay)
	return s.sleep(ctx, d)
}

// DiscoverCategories reads the department menu from the home page.
func (s *Scraper) DiscoverCategories(ctx context.Context, homeURL string) ([]models.Category, error) {
	if err := config.ValidateListingURL(homeURL); err != nil {
		return nil, fmt.Errorf("home URL: %w", err)
	}
	log := s.logger.WithField("url", homeURL)

	content, err := s.provider.Fetch(ctx, homeURL)
	if err != nil {
		s.recordFailure(homeURL, fetcher.ErrorType(err))
		return nil, fmt.Errorf("discover categories: %w", err)
	}
	page, err := parser.NewPage(homeURL, content)
	if err != nil {
		return nil, fmt.Errorf("discover categories: %w", err)
	}
	categories, err := parser.ParseCategories(page, s.cfg.DataElementID, s.logger)
	if err != nil {
		return nil, fmt.Errorf("discover categories: %w", err)
	}

	log.WithField("categories", len(categories)).Info("categories discovered")
	return categories, nil
}

// CrawlCategories crawls up to MaxCategories categories, Parallelism at a
// time. Every category gets an independent session; finished sessions are
// appended to sink.
func (s *Scraper) CrawlCategories(ctx context.Context, categories []models.Category, sink RecordSink) *models.RunSummary {
	start := time.Now()
	if limit := s.cfg.MaxCategories; limit > 0 && len(categories) > limit {
		s.logger.WithFields(logrus.Fields{
			"available": len(categories),
			"limit":     limit,
		}).Info("limiting categories")
		categories = categories[:limit]
	}

	parallelism := s.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	sessions := make([]*models.Session, len(categories))

	var wg sync.WaitGroup
	for i, cat := range categories {
		if err := config.ValidateListingURL(cat.URL); err != nil {
			s.logger.WithError(err).WithField("category", cat.Name).Warn("skipping category")
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			session := s.crawl(ctx, cat.URL, s.cfg.MaxPages, cat.Name)
			if sink != nil {
				sink.Append(session.Records...)
			}
			sessions[i] = session
		}()
	}
	wg.Wait()

	return s.Summary(start, sessions...)
}

// Summary aggregates sessions together with the failures seen so far.
func (s *Scraper) Summary(start time.Time, sessions ...*models.Session) *models.RunSummary {
	summary := &models.RunSummary{
		StartTime:    start,
		EndTime:      time.Now(),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
	}
	for _, session := range sessions {
		if session == nil {
			continue
		}
		summary.Sessions = append(summary.Sessions, session)
		summary.TotalCount += len(session.Records)
		summary.PageCount += len(session.Pages)
	}
	return summary
}

// PageURL returns the URL of page n of a listing. Page 1 is base unchanged;
// later pages set the page query parameter.
func PageURL(base string, n int, param string) (string, error) {
	if n <= 1 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Scraper) recordFailure(rawURL, errorType string) {
	s.mu.Lock()
	s.failedURLs = append(s.failedURLs, rawURL)
	s.errorsByType[errorType]++
	s.mu.Unlock()
	s.Metrics.IncError(errorType)
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
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

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
