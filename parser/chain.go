package parser

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Strategy turns a page into records. Implementations hold no state between
// calls. A *ParseError means nothing usable was found.
type Strategy interface {
	Name() string
	Extract(page *Page) (Result, error)
}

// Result is what a strategy read from one page. Raw[i] is the source text
// Records[i] was built from.
type Result struct {
	Records []models.Record
	Raw     []string
	Issues  []error
}

func (r *Result) add(rec models.Record, raw string) {
	r.Records = append(r.Records, rec)
	r.Raw = append(r.Raw, raw)
}

// Outcome is the chain's verdict for one page.
type Outcome struct {
	Records   []models.Record
	Strategy  string // empty when no strategy produced records
	Recovered int    // fields filled by fillers
	Skipped   int    // items dropped for missing core fields
}

// Chain tries strategies in order and keeps the first non-empty result.
type Chain struct {
	strategies []Strategy
	fillers    []FieldFiller
	logger     logrus.FieldLogger
}

// NewChain builds a chain over strategies, in priority order.
func NewChain(logger logrus.FieldLogger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = discardLogger()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// WithFillers appends per-record field fillers, applied after a strategy wins.
func (c *Chain) WithFillers(fillers ...FieldFiller) *Chain {
	c.fillers = append(c.fillers, fillers...)
	return c
}

// DefaultChain is structured data, then markup scan, with the price pattern
// as a filler.
func DefaultChain(elementID string, logger logrus.FieldLogger) *Chain {
	return NewChain(logger, NewStructuredData(elementID), NewMarkupScan()).
		WithFillers(NewPatternFallback())
}

// Strategies returns the strategy names in priority order.
func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Extract runs the chain against page. An empty Outcome means every strategy
// came up empty, which callers treat as an exhausted listing.
func (c *Chain) Extract(page *Page) Outcome {
	log := c.logger
	if page.URL != nil {
		log = log.WithField("url", page.URL.String())
	}

	for _, s := range c.strategies {
		result, err := s.Extract(page)
		skipped := c.logIssues(log.WithField("strategy", s.Name()), result.Issues)

		if len(result.Records) == 0 {
			var perr *ParseError
			if errors.As(err, &perr) {
				log.WithField("strategy", s.Name()).WithError(err).Info("strategy found no records, falling back")
			} else if err != nil {
				log.WithField("strategy", s.Name()).WithError(err).Warn("strategy failed, falling back")
			}
			continue
		}

		out := Outcome{Strategy: s.Name(), Skipped: skipped}
		out.Records = make([]models.Record, len(result.Records))
		copy(out.Records, result.Records)
		for i := range out.Records {
			raw := ""
			if i < len(result.Raw) {
				raw = result.Raw[i]
			}
			for _, f := range c.fillers {
				if f.Fill(&out.Records[i], raw) {
					out.Recovered++
					log.WithFields(logrus.Fields{
						"strategy": f.Name(),
						"item":     i,
					}).Debug("field recovered by filler")
				}
			}
		}
		log.WithFields(logrus.Fields{
			"strategy":  s.Name(),
			"records":   len(out.Records),
			"recovered": out.Recovered,
			"skipped":   out.Skipped,
		}).Debug("page extracted")
		return out
	}
	return Outcome{}
}

// logIssues logs field problems and returns how many items were skipped.
func (c *Chain) logIssues(log logrus.FieldLogger, issues []error) int {
	skipped := 0
	for _, issue := range issues {
		var fe *FieldExtractionError
		if errors.As(issue, &fe) && !fe.Skipped {
			log.WithError(issue).Debug("field defaulted")
			continue
		}
		skipped++
		log.WithError(issue).Warn("item skipped")
	}
	return skipped
}
