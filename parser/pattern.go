package parser

import (
	"regexp"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// priceToken matches currency-shaped tokens such as "R$ 1.234,56", "$1299.99",
// "€ 3,50" or "£4". Thousands groups need a separator, so ungrouped integer
// parts of any length are taken whole.
var priceToken = regexp.MustCompile(`(?:R\$|US\$|€|£|\$)[\s\x{00a0}]?\d+(?:[.,\s]\d{3})*(?:[.,]\d{1,2})?`)

// FieldFiller recovers a single field of a record from the raw text the
// record was built from. It reports whether it changed the record.
type FieldFiller interface {
	Name() string
	Fill(rec *models.Record, raw string) bool
}

// PatternFallback fills a missing price with the first currency-shaped token.
type PatternFallback struct {
	Pattern *regexp.Regexp
}

// NewPatternFallback returns the filler with the default price pattern.
func NewPatternFallback() *PatternFallback {
	return &PatternFallback{Pattern: priceToken}
}

// Name implements FieldFiller.
func (p *PatternFallback) Name() string {
	return "pattern-fallback"
}

// Fill implements FieldFiller. Records whose price is already known are left
// untouched.
func (p *PatternFallback) Fill(rec *models.Record, raw string) bool {
	if rec.Price != models.NotAvailable {
		return false
	}
	token := p.Find(raw)
	if token == "" {
		return false
	}
	rec.Price = token
	return true
}

// Find returns the first price token in text, normalized, or "".
func (p *PatternFallback) Find(text string) string {
	return NormalizeText(p.Pattern.FindString(text))
}
