package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// DefaultProductPaths are the known locations of the product list inside the
// embedded data block, newest layout first.
var DefaultProductPaths = [][]string{
	{"props", "pageProps", "results"},
	{"props", "pageProps", "initialState", "product", "productList", "products"},
}

// CategoryPath locates the department menu on the home page.
var CategoryPath = []string{"props", "pageProps", "initialState", "menu", "departments"}

var errKeyNotFound = errors.New("key not found")

// nbspReplacer turns escaped and literal non-breaking spaces in raw JSON into
// plain spaces so pattern fillers see "R$ 10,00" either way.
var nbspReplacer = strings.NewReplacer(`\u00a0`, " ", `\u00A0`, " ", "\u00a0", " ")

// StructuredData reads products from the JSON document embedded in the page
// under a stable element id (for example <script id="__NEXT_DATA__">).
type StructuredData struct {
	ElementID string
	Paths     [][]string
}

// NewStructuredData returns the strategy with the default product paths.
func NewStructuredData(elementID string) *StructuredData {
	return &StructuredData{ElementID: elementID, Paths: DefaultProductPaths}
}

// Name implements Strategy.
func (s *StructuredData) Name() string {
	return "structured-data"
}

// Extract implements Strategy.
func (s *StructuredData) Extract(page *Page) (Result, error) {
	block, err := embeddedData(page, s.ElementID)
	if err != nil {
		return Result{}, &ParseError{Strategy: s.Name(), Reason: "embedded data block unavailable", Err: err}
	}

	var entries []json.RawMessage
	var misses []string
	found := false
	for _, path := range s.Paths {
		entries, err = rawListAt(block, path)
		if err == nil {
			found = true
			break
		}
		misses = append(misses, fmt.Sprintf("%s (%v)", strings.Join(path, "."), err))
	}
	if !found {
		return Result{}, &ParseError{Strategy: s.Name(), Reason: "product list not found at " + strings.Join(misses, ", ")}
	}
	if len(entries) == 0 {
		return Result{}, &ParseError{Strategy: s.Name(), Reason: "product list is empty"}
	}

	var result Result
	for i, raw := range entries {
		entry, err := decodeObject(raw)
		if err != nil {
			result.Issues = append(result.Issues, &FieldExtractionError{Field: "entry", Index: i, Skipped: true, Err: err})
			continue
		}

		rec := models.NewRecord()
		rec.Name = OrNotAvailable(firstString(entry, []string{"displayName"}, []string{"name"}))
		rec.URL = OrNotAvailable(ResolveURL(page.URL, firstString(entry, []string{"url"}, []string{"link"})))
		if err := ValidateRecord(rec); err != nil {
			var fe *FieldExtractionError
			if errors.As(err, &fe) {
				fe.Index = i
				fe.Skipped = true
			}
			result.Issues = append(result.Issues, err)
			continue
		}

		rec.Price = OrNotAvailable(firstString(entry,
			[]string{"price", "formattedValue"},
			[]string{"price"},
			[]string{"prices", "0", "formattedValue"},
		))
		rec.OriginalPrice = OrNotAvailable(firstString(entry,
			[]string{"originalPrice", "formattedValue"},
			[]string{"normalPrice", "formattedValue"},
			[]string{"originalPrice"},
		))
		rec.Discount = OrNotAvailable(firstString(entry,
			[]string{"discount"},
			[]string{"discountBadge", "label"},
		))
		rec.SKU = OrNotAvailable(firstString(entry,
			[]string{"sku"},
			[]string{"productId"},
			[]string{"skuId"},
		))
		rec.Availability = OrNotAvailable(availability(entry))

		result.add(rec, nbspReplacer.Replace(scanText(entry, raw)))
	}

	if len(result.Records) == 0 {
		return result, &ParseError{Strategy: s.Name(), Reason: "no well-formed product entries"}
	}
	return result, nil
}

func embeddedData(page *Page, elementID string) (json.RawMessage, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(fmt.Sprintf("script[id=%q]", elementID))
	if sel.Length() == 0 {
		return nil, fmt.Errorf("element #%s not found", elementID)
	}
	text := strings.TrimSpace(sel.First().Text())
	if text == "" {
		return nil, fmt.Errorf("element #%s is empty", elementID)
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("element #%s does not hold valid JSON", elementID)
	}
	return json.RawMessage(text), nil
}

// rawListAt walks object keys along path and returns the list found there,
// keeping every element as raw JSON.
func rawListAt(doc json.RawMessage, path []string) ([]json.RawMessage, error) {
	current := doc
	for i, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, fmt.Errorf("%s is not an object", strings.Join(path[:i], "."))
		}
		next, ok := obj[key]
		if !ok || string(next) == "null" {
			return nil, fmt.Errorf("%w: %s", errKeyNotFound, key)
		}
		current = next
	}
	var list []json.RawMessage
	if err := json.Unmarshal(current, &list); err != nil {
		return nil, fmt.Errorf("not a list")
	}
	return list, nil
}

// listPriceKeys hold the pre-discount price, which must never be mistaken for
// the current one when the price is recovered from the entry text.
var listPriceKeys = []string{"originalPrice", "normalPrice"}

// scanText is the entry re-encoded without its list price fields.
func scanText(entry map[string]any, raw json.RawMessage) string {
	trimmed := make(map[string]any, len(entry))
	for key, v := range entry {
		if slices.Contains(listPriceKeys, key) {
			continue
		}
		trimmed[key] = v
	}
	text, err := json.Marshal(trimmed)
	if err != nil {
		return string(raw)
	}
	return string(text)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("entry is not an object")
	}
	return obj, nil
}

// valueAt walks maps by key and slices by numeric index.
func valueAt(v any, path []string) (any, bool) {
	for _, key := range path {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			v = node[idx]
		default:
			return nil, false
		}
	}
	return v, v != nil
}

// firstString returns the first scalar found along the candidate paths.
func firstString(entry map[string]any, paths ...[]string) string {
	for _, path := range paths {
		v, ok := valueAt(entry, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return val
			}
		case json.Number:
			return val.String()
		}
	}
	return ""
}

func availability(entry map[string]any) string {
	if s := firstString(entry, []string{"availability"}, []string{"stockStatus"}); s != "" {
		return s
	}
	for _, key := range []string{"isAvailable", "inStock"} {
		if v, ok := entry[key].(bool); ok {
			if v {
				return "in stock"
			}
			return "out of stock"
		}
	}
	return ""
}
