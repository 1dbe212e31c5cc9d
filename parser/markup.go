package parser

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// MarkerKind tells how a card selector identifies product cards.
type MarkerKind int

const (
	ByAttribute MarkerKind = iota
	ByClass
)

func (k MarkerKind) String() string {
	if k == ByClass {
		return "class"
	}
	return "attribute"
}

// CardSelector is one alternative way of locating product cards.
type CardSelector struct {
	Kind  MarkerKind
	Query string
}

// FieldSelector reads one value from inside a card. An empty Query targets
// the card itself; an empty Attr reads the element text.
type FieldSelector struct {
	Query string
	Attr  string
}

func (f FieldSelector) read(card *goquery.Selection) string {
	sel := card
	if f.Query != "" {
		sel = card.Find(f.Query)
	}
	// first non-empty match wins
	var value string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if f.Attr != "" {
			value, _ = s.Attr(f.Attr)
		} else {
			value = s.Text()
		}
		value = NormalizeText(value)
		return value == ""
	})
	return value
}

// FieldSelectors is an ordered list of alternatives for one field.
type FieldSelectors []FieldSelector

func (fs FieldSelectors) first(card *goquery.Selection) string {
	for _, f := range fs {
		if v := f.read(card); v != "" {
			return v
		}
	}
	return ""
}

// Fields maps each record field to its selector alternatives.
type Fields struct {
	Name          FieldSelectors
	Price         FieldSelectors
	OriginalPrice FieldSelectors
	Discount      FieldSelectors
	URL           FieldSelectors
	SKU           FieldSelectors
	Availability  FieldSelectors
}

// DefaultCards lists attribute markers before class-name markers.
var DefaultCards = []CardSelector{
	{Kind: ByAttribute, Query: "[data-testid='product-card']"},
	{Kind: ByAttribute, Query: "[data-pod='catalyst-pod']"},
	{Kind: ByAttribute, Query: "[data-product-id]"},
	{Kind: ByClass, Query: ".product-card"},
	{Kind: ByClass, Query: ".product-item"},
}

// DefaultFields are the selector alternatives observed across listing layouts.
var DefaultFields = Fields{
	Name: FieldSelectors{
		{Query: "[data-testid='product-title']"},
		{Query: ".product-title"},
		{Query: ".pod-subTitle"},
		{Query: "h2"},
		{Query: "h3"},
	},
	Price: FieldSelectors{
		{Query: "[data-testid='product-price']"},
		{Query: ".product-price"},
		{Query: ".price"},
	},
	OriginalPrice: FieldSelectors{
		{Query: "[data-testid='product-original-price']"},
		{Query: ".original-price"},
		{Query: ".price-old"},
	},
	Discount: FieldSelectors{
		{Query: "[data-testid='product-discount']"},
		{Query: ".discount-badge"},
		{Query: ".discount"},
	},
	URL: FieldSelectors{
		{Attr: "href"},
		{Query: "a[href]", Attr: "href"},
	},
	SKU: FieldSelectors{
		{Attr: "data-product-id"},
		{Attr: "data-sku"},
		{Query: "[data-sku]", Attr: "data-sku"},
	},
	Availability: FieldSelectors{
		{Query: "[data-testid='product-availability']"},
		{Query: ".availability"},
		{Query: ".stock"},
	},
}

// MarkupScan reads product cards from the rendered DOM.
type MarkupScan struct {
	Cards  []CardSelector
	Fields Fields
}

// NewMarkupScan returns the strategy with the default selectors.
func NewMarkupScan() *MarkupScan {
	return &MarkupScan{Cards: DefaultCards, Fields: DefaultFields}
}

// Name implements Strategy.
func (m *MarkupScan) Name() string {
	return "markup-scan"
}

// Extract implements Strategy. The first card selector matching any element
// decides which cards are read.
func (m *MarkupScan) Extract(page *Page) (Result, error) {
	doc, err := page.Document()
	if err != nil {
		return Result{}, &ParseError{Strategy: m.Name(), Reason: "unparseable markup", Err: err}
	}

	var cards *goquery.Selection
	for _, cs := range m.Cards {
		if sel := doc.Find(cs.Query); sel.Length() > 0 {
			cards = sel
			break
		}
	}
	if cards == nil {
		return Result{}, &ParseError{Strategy: m.Name(), Reason: "no product cards found"}
	}

	var result Result
	cards.Each(func(i int, card *goquery.Selection) {
		rec, issues := m.readCard(page, i, card)
		result.Issues = append(result.Issues, issues...)
		if rec == nil {
			return
		}
		text := NormalizeText(card.Text())
		if rec.OriginalPrice != models.NotAvailable {
			// the list price is not a candidate for the current price
			text = strings.ReplaceAll(text, rec.OriginalPrice, " ")
		}
		result.add(*rec, text)
	})

	if len(result.Records) == 0 {
		return result, &ParseError{Strategy: m.Name(), Reason: "no readable product cards"}
	}
	return result, nil
}

func (m *MarkupScan) readCard(page *Page, index int, card *goquery.Selection) (*models.Record, []error) {
	rec := models.NewRecord()
	rec.Name = OrNotAvailable(m.Fields.Name.first(card))
	rec.URL = OrNotAvailable(ResolveURL(page.URL, m.Fields.URL.first(card)))
	if err := ValidateRecord(rec); err != nil {
		var fe *FieldExtractionError
		if errors.As(err, &fe) {
			fe.Index = index
			fe.Skipped = true
		}
		return nil, []error{err}
	}

	var issues []error
	decorative := []struct {
		name string
		dst  *string
		sel  FieldSelectors
	}{
		{"price", &rec.Price, m.Fields.Price},
		{"original_price", &rec.OriginalPrice, m.Fields.OriginalPrice},
		{"discount", &rec.Discount, m.Fields.Discount},
		{"sku", &rec.SKU, m.Fields.SKU},
		{"availability", &rec.Availability, m.Fields.Availability},
	}
	for _, f := range decorative {
		if v := strings.TrimSpace(f.sel.first(card)); v != "" {
			*f.dst = v
			continue
		}
		issues = append(issues, &FieldExtractionError{Field: f.name, Index: index, Err: errMissing})
	}
	return &rec, issues
}
