package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	PagesTotal        *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	RecordsByStrategy *prometheus.CounterVec
	SessionsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Listing pages processed, by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Latency of page source fetches, retries included.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of records extracted.",
		},
	)
	byStrategy := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_by_strategy_total",
			Help: "Records extracted, by the strategy that produced them.",
		},
		[]string{"strategy"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_sessions_total",
			Help: "Crawl sessions finished, by termination reason.",
		},
		[]string{"reason"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(pages, fetchDuration, itemsScraped, byStrategy, sessions, errorsTotal)

	return &Metrics{
		Registry:          registry,
		PagesTotal:        pages,
		FetchDuration:     fetchDuration,
		ItemsScrapedTotal: itemsScraped,
		RecordsByStrategy: byStrategy,
		SessionsTotal:     sessions,
		ErrorsTotal:       errorsTotal,
	}
}

// IncPage increments the pages counter for an outcome label.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records a fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// AddItems adds n records produced by strategy.
func (m *Metrics) AddItems(strategy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsScrapedTotal.Add(float64(n))
	m.RecordsByStrategy.WithLabelValues(strategy).Add(float64(n))
}

// IncSession increments the sessions counter for a termination reason.
func (m *Metrics) IncSession(reason string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(reason).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
