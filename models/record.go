// Package models defines data structures for the scraper.
package models

import "time"

// NotAvailable is the placeholder stored in any field that could not be extracted.
const NotAvailable = "N/A"

// Record represents one catalog item extracted from a listing page.
type Record struct {
	Category      string `csv:"Categoria" json:"category,omitempty"`
	Name          string `csv:"Nome" json:"name"`
	Price         string `csv:"Preco" json:"price"`
	OriginalPrice string `csv:"Preco_Original" json:"original_price"`
	Discount      string `csv:"Desconto" json:"discount"`
	URL           string `csv:"URL" json:"url"`
	SKU           string `csv:"SKU" json:"sku"`
	Availability  string `csv:"Disponibilidade" json:"availability"`
}

// NewRecord returns a record with every field set to NotAvailable.
func NewRecord() Record {
	return Record{
		Name:          NotAvailable,
		Price:         NotAvailable,
		OriginalPrice: NotAvailable,
		Discount:      NotAvailable,
		URL:           NotAvailable,
		SKU:           NotAvailable,
		Availability:  NotAvailable,
	}
}

// Columns is the fixed column order of the tabular output.
var Columns = []string{"Nome", "Preco", "Preco_Original", "Desconto", "URL", "SKU", "Disponibilidade"}

// Row returns the record's values in Columns order.
func (r Record) Row() []string {
	return []string{r.Name, r.Price, r.OriginalPrice, r.Discount, r.URL, r.SKU, r.Availability}
}

// RecordFromRow is the inverse of Row. Missing trailing values become NotAvailable.
func RecordFromRow(row []string) Record {
	rec := NewRecord()
	fields := []*string{&rec.Name, &rec.Price, &rec.OriginalPrice, &rec.Discount, &rec.URL, &rec.SKU, &rec.Availability}
	for i, f := range fields {
		if i < len(row) {
			*f = row[i]
		}
	}
	return rec
}

// Category is a department discovered on the home page.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Reason explains why a crawl session stopped.
type Reason string

const (
	ReasonExhausted   Reason = "exhausted"
	ReasonFetchFailed Reason = "fetch-failed"
	ReasonMaxPages    Reason = "max-pages"
	ReasonLastPage    Reason = "last-page"
	ReasonCanceled    Reason = "canceled"
)

// PageResult is the outcome of processing a single listing page.
type PageResult struct {
	Page     int
	URL      string
	Records  []Record
	Strategy string
	HasNext  bool
}

// PageStat is what a session remembers about each visited page.
type PageStat struct {
	Page     int
	URL      string
	Strategy string
	Count    int
}

// Session accumulates the records of one crawl over a base URL.
type Session struct {
	BaseURL   string
	Category  string
	Records   []Record
	Page      int // last page index visited
	Reason    Reason
	Err       error // fetch or cancellation error behind Reason, if any
	Pages     []PageStat
	StartTime time.Time
	EndTime   time.Time
}

// NewSession starts an empty session for baseURL.
func NewSession(baseURL, category string) *Session {
	return &Session{
		BaseURL:   baseURL,
		Category:  category,
		StartTime: time.Now(),
	}
}

// Append adds a page's records to the session and advances the page index.
func (s *Session) Append(result PageResult) {
	s.Page = result.Page
	s.Records = append(s.Records, result.Records...)
	s.Pages = append(s.Pages, PageStat{
		Page:     result.Page,
		URL:      result.URL,
		Strategy: result.Strategy,
		Count:    len(result.Records),
	})
}

// Finish records the termination reason. A finished session is never resumed.
func (s *Session) Finish(reason Reason, err error) {
	if s.Reason != "" {
		return
	}
	s.Reason = reason
	s.Err = err
	s.EndTime = time.Now()
}

// Done reports whether the session has terminated.
func (s *Session) Done() bool {
	return s.Reason != ""
}

// StrategyCounts returns how many pages each strategy produced.
func (s *Session) StrategyCounts() map[string]int {
	out := make(map[string]int)
	for _, p := range s.Pages {
		if p.Strategy != "" {
			out[p.Strategy]++
		}
	}
	return out
}

// RunSummary aggregates the sessions of a whole run.
type RunSummary struct {
	Sessions     []*Session
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	PageCount    int
	FailedURLs   []string
	ErrorsByType map[string]int
}
