package parser

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const testPageURL = "https://example.test/category/42"

func newTestPage(t *testing.T, html string) *Page {
	t.Helper()
	page, err := NewPage(testPageURL, html)
	require.NoError(t, err)
	return page
}

func nextDataPage(data, body string) string {
	return `<html><head><script id="__NEXT_DATA__" type="application/json">` + data +
		`</script></head><body>` + body + `</body></html>`
}

func resultsJSON(entries ...string) string {
	return `{"props":{"pageProps":{"results":[` + strings.Join(entries, ",") + `]}}}`
}

func TestStructuredDataReturnsOneRecordPerEntry(t *testing.T) {
	for _, n := range []int{1, 3, 24} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			entries := make([]string, n)
			for i := range entries {
				entries[i] = fmt.Sprintf(`{
					"displayName": "Produto %d",
					"price": {"formattedValue": "R$ %d,90"},
					"originalPrice": {"formattedValue": "R$ %d,90"},
					"discount": "10%%",
					"url": "/p/%d",
					"sku": %d,
					"isAvailable": true
				}`, i, i+10, i+20, i, 1000+i)
			}

			result, err := NewStructuredData("__NEXT_DATA__").Extract(newTestPage(t, nextDataPage(resultsJSON(entries...), "")))

			require.NoError(t, err)
			require.Len(t, result.Records, n)
			require.Len(t, result.Raw, n)
			assert.Empty(t, result.Issues)
			for i, rec := range result.Records {
				assert.Equal(t, models.Record{
					Name:          fmt.Sprintf("Produto %d", i),
					Price:         fmt.Sprintf("R$ %d,90", i+10),
					OriginalPrice: fmt.Sprintf("R$ %d,90", i+20),
					Discount:      "10%",
					URL:           fmt.Sprintf("https://example.test/p/%d", i),
					SKU:           fmt.Sprintf("%d", 1000+i),
					Availability:  "in stock",
				}, rec)
			}
		})
	}
}

func TestStructuredDataShelfExample(t *testing.T) {
	data := resultsJSON(`{"displayName":"Shelf A","price":{"formattedValue":"R$99,90"},"url":"/p/1"}`)

	result, err := NewStructuredData("__NEXT_DATA__").Extract(newTestPage(t, nextDataPage(data, "")))

	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "Shelf A", rec.Name)
	assert.Equal(t, "R$99,90", rec.Price)
	assert.Equal(t, "https://example.test/p/1", rec.URL)
	assert.Equal(t, models.NotAvailable, rec.OriginalPrice)
	assert.Equal(t, models.NotAvailable, rec.Discount)
	assert.Equal(t, models.NotAvailable, rec.SKU)
	assert.Equal(t, models.NotAvailable, rec.Availability)
}

func TestStructuredDataLegacyPath(t *testing.T) {
	data := `{"props":{"pageProps":{"initialState":{"product":{"productList":{"products":[
		{"name":"Torneira","price":"R$ 120,00","url":"https://example.test/p/9","productId":"abc","availability":"Em estoque"},
		{"name":"Chuveiro","prices":[{"formattedValue":"R$ 80,00"}],"url":"/p/10","skuId":"def","isAvailable":false}
	]}}}}}}`

	result, err := NewStructuredData("__NEXT_DATA__").Extract(newTestPage(t, nextDataPage(data, "")))

	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "Torneira", result.Records[0].Name)
	assert.Equal(t, "R$ 120,00", result.Records[0].Price)
	assert.Equal(t, "abc", result.Records[0].SKU)
	assert.Equal(t, "Em estoque", result.Records[0].Availability)
	assert.Equal(t, "R$ 80,00", result.Records[1].Price)
	assert.Equal(t, "https://example.test/p/10", result.Records[1].URL)
	assert.Equal(t, "def", result.Records[1].SKU)
	assert.Equal(t, "out of stock", result.Records[1].Availability)
}

func TestStructuredDataSkipsEntriesMissingCoreFields(t *testing.T) {
	data := resultsJSON(
		`{"displayName":"Sem link","price":{"formattedValue":"R$ 1,00"}}`,
		`{"displayName":"Ok","url":"/p/2"}`,
		`{"url":"/p/3"}`,
		`"not an object"`,
	)

	result, err := NewStructuredData("__NEXT_DATA__").Extract(newTestPage(t, nextDataPage(data, "")))

	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Ok", result.Records[0].Name)
	require.Len(t, result.Issues, 3)
	for _, issue := range result.Issues {
		var fe *FieldExtractionError
		require.True(t, errors.As(issue, &fe))
		assert.True(t, fe.Skipped)
	}
}

func TestStructuredDataMissingBlock(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{name: "no script", html: `<html><body><p>nothing here</p></body></html>`},
		{name: "empty script", html: nextDataPage("", "")},
		{name: "invalid json", html: nextDataPage("{not json", "")},
		{name: "missing key", html: nextDataPage(`{"props":{"pageProps":{}}}`, "")},
		{name: "wrong type", html: nextDataPage(`{"props":{"pageProps":{"results":{"a":1}}}}`, "")},
		{name: "empty list", html: nextDataPage(resultsJSON(), "")},
		{name: "empty content", html: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result Result
			var err error
			assert.NotPanics(t, func() {
				result, err = NewStructuredData("__NEXT_DATA__").Extract(newTestPage(t, tt.html))
			})
			assert.Empty(t, result.Records)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

const cardsHTML = `
<div data-testid="product-card">
  <a href="/p/10"><h3 class="product-title">Piso Cerâmico</h3></a>
  <span class="price">R$ 39,90</span>
  <span class="price-old">R$ 49,90</span>
  <span class="discount-badge">-20%</span>
  <span class="stock">Disponível</span>
</div>
<div data-testid="product-card" data-sku="777">
  <a href="https://example.test/p/11"><h3 class="product-title">Rejunte</h3></a>
</div>
<div data-testid="product-card">
  <span class="price">R$ 1,00</span>
</div>
<div data-testid="product-card">
  <a href="/p/12"><h3 class="product-title">Argamassa</h3></a>
  <p>Leve por $5.99 hoje</p>
</div>`

func TestMarkupScanReadsCards(t *testing.T) {
	result, err := NewMarkupScan().Extract(newTestPage(t, "<html><body>"+cardsHTML+"</body></html>"))

	require.NoError(t, err)
	require.Len(t, result.Records, 3, "the card without name and link is skipped")

	assert.Equal(t, models.Record{
		Name:          "Piso Cerâmico",
		Price:         "R$ 39,90",
		OriginalPrice: "R$ 49,90",
		Discount:      "-20%",
		URL:           "https://example.test/p/10",
		SKU:           models.NotAvailable,
		Availability:  "Disponível",
	}, result.Records[0])

	assert.Equal(t, "Rejunte", result.Records[1].Name)
	assert.Equal(t, "777", result.Records[1].SKU)
	assert.Equal(t, models.NotAvailable, result.Records[1].Price)

	assert.Equal(t, "Argamassa", result.Records[2].Name)
	assert.Contains(t, result.Raw[2], "$5.99")

	skipped := 0
	for _, issue := range result.Issues {
		var fe *FieldExtractionError
		require.True(t, errors.As(issue, &fe))
		if fe.Skipped {
			skipped++
			assert.Equal(t, 2, fe.Index)
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestMarkupScanPrefersAttributeMarkers(t *testing.T) {
	html := `<html><body>
		<div class="product-card"><a href="/p/1">Class Card</a></div>
		<a data-product-id="55" href="/p/2"><h2>Attribute Card</h2></a>
	</body></html>`

	result, err := NewMarkupScan().Extract(newTestPage(t, html))

	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Attribute Card", result.Records[0].Name)
	assert.Equal(t, "https://example.test/p/2", result.Records[0].URL)
	assert.Equal(t, "55", result.Records[0].SKU)
}

func TestMarkupScanClassFallback(t *testing.T) {
	html := `<html><body>
		<li class="product-item"><a href="/p/1"><span class="product-title">Item 1</span></a><span class="price">R$ 2,00</span></li>
		<li class="product-item"><a href="/p/2"><span class="product-title">Item 2</span></a></li>
	</body></html>`

	result, err := NewMarkupScan().Extract(newTestPage(t, html))

	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "Item 1", result.Records[0].Name)
	assert.Equal(t, "R$ 2,00", result.Records[0].Price)
	assert.Equal(t, "https://example.test/p/2", result.Records[1].URL)
}

func TestMarkupScanNoCards(t *testing.T) {
	result, err := NewMarkupScan().Extract(newTestPage(t, "<html><body><p>vazio</p></body></html>"))

	assert.Empty(t, result.Records)
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestPatternFallbackFill(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		raw      string
		expected string
		filled   bool
	}{
		{name: "brazilian real", price: models.NotAvailable, raw: "Oferta R$ 1.234,56 à vista", expected: "R$ 1.234,56", filled: true},
		{name: "no space", price: models.NotAvailable, raw: "por R$99,90", expected: "R$99,90", filled: true},
		{name: "non-breaking space", price: models.NotAvailable, raw: "por R$\u00a012,00", expected: "R$ 12,00", filled: true},
		{name: "ungrouped thousands", price: models.NotAvailable, raw: "por R$1234,56", expected: "R$1234,56", filled: true},
		{name: "ungrouped dollar", price: models.NotAvailable, raw: "only $1299.99", expected: "$1299.99", filled: true},
		{name: "five digit integer part", price: models.NotAvailable, raw: "R$ 10500,00 à vista", expected: "R$ 10500,00", filled: true},
		{name: "dollar", price: models.NotAvailable, raw: "only $12.99 today", expected: "$12.99", filled: true},
		{name: "euro", price: models.NotAvailable, raw: "€ 3,50", expected: "€ 3,50", filled: true},
		{name: "pound", price: models.NotAvailable, raw: "£4 each", expected: "£4", filled: true},
		{name: "first match wins", price: models.NotAvailable, raw: "de R$ 20,00 por R$ 15,00", expected: "R$ 20,00", filled: true},
		{name: "no token", price: models.NotAvailable, raw: "preço sob consulta", expected: models.NotAvailable, filled: false},
		{name: "price already known", price: "R$ 5,00", raw: "R$ 7,00", expected: "R$ 5,00", filled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := models.NewRecord()
			rec.Price = tt.price

			filled := NewPatternFallback().Fill(&rec, tt.raw)

			assert.Equal(t, tt.filled, filled)
			assert.Equal(t, tt.expected, rec.Price)
		})
	}
}

func TestChainPrefersStructuredData(t *testing.T) {
	data := resultsJSON(`{"displayName":"From JSON","price":{"formattedValue":"R$ 10,00"},"url":"/p/1"}`)
	page := newTestPage(t, nextDataPage(data, cardsHTML))

	out := DefaultChain("__NEXT_DATA__", nil).Extract(page)

	assert.Equal(t, "structured-data", out.Strategy)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "From JSON", out.Records[0].Name)
}

func TestChainFallsBackToMarkup(t *testing.T) {
	page := newTestPage(t, "<html><body>"+cardsHTML+"</body></html>")

	out := DefaultChain("__NEXT_DATA__", nil).Extract(page)

	assert.Equal(t, "markup-scan", out.Strategy)
	require.Len(t, out.Records, 3)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, "$5.99", out.Records[2].Price, "price recovered from card text")
	assert.Equal(t, 1, out.Recovered)
	assert.Equal(t, models.NotAvailable, out.Records[1].Price)
}

func TestChainRecoversPriceFromStructuredEntry(t *testing.T) {
	data := resultsJSON(
		`{"displayName":"Lamp","url":"/p/1","description":"Oferta R$ 49,90 no pix"}`,
		`{"displayName":"Bulb","url":"/p/2"}`,
	)
	page := newTestPage(t, nextDataPage(data, ""))

	out := DefaultChain("__NEXT_DATA__", nil).Extract(page)

	assert.Equal(t, "structured-data", out.Strategy)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "R$ 49,90", out.Records[0].Price)
	assert.Equal(t, models.NotAvailable, out.Records[1].Price)
	assert.Equal(t, 1, out.Recovered)
}

func TestChainDoesNotPromoteListPrice(t *testing.T) {
	t.Run("structured entry", func(t *testing.T) {
		data := resultsJSON(`{"displayName":"Lamp","url":"/p/1","originalPrice":{"formattedValue":"R$ 199,90"},"normalPrice":{"formattedValue":"R$ 189,90"}}`)

		out := DefaultChain("__NEXT_DATA__", nil).Extract(newTestPage(t, nextDataPage(data, "")))

		require.Len(t, out.Records, 1)
		assert.Equal(t, models.NotAvailable, out.Records[0].Price)
		assert.Equal(t, "R$ 199,90", out.Records[0].OriginalPrice)
		assert.Zero(t, out.Recovered)
	})

	t.Run("markup card", func(t *testing.T) {
		html := `<html><body><div data-testid="product-card">
  <a href="/p/1"><h3 class="product-title">Lamp</h3></a>
  <span class="price-old">R$ 199,90</span>
</div></body></html>`

		out := DefaultChain("__NEXT_DATA__", nil).Extract(newTestPage(t, html))

		require.Len(t, out.Records, 1)
		assert.Equal(t, models.NotAvailable, out.Records[0].Price)
		assert.Equal(t, "R$ 199,90", out.Records[0].OriginalPrice)
	})
}

func TestChainEmptyPage(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{name: "empty results list", html: nextDataPage(resultsJSON(), "")},
		{name: "no data at all", html: "<html><body></body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DefaultChain("__NEXT_DATA__", nil).Extract(newTestPage(t, tt.html))

			assert.Empty(t, out.Records)
			assert.Empty(t, out.Strategy)
		})
	}
}

func TestChainStrategies(t *testing.T) {
	assert.Equal(t, []string{"structured-data", "markup-scan"}, DefaultChain("__NEXT_DATA__", nil).Strategies())
}

func TestParseCategories(t *testing.T) {
	data := `{"props":{"pageProps":{"initialState":{"menu":{"departments":[
		{"name":"Pisos","url":"/sodimac-br/category/cat10008/pisos"},
		{"name":" Ferramentas ","url":"https://example.test/category/ferramentas"},
		{"name":"Sem link"},
		{"url":"/sem-nome"},
		"oops"
	]}}}}}`
	page, err := NewPage("https://example.test", nextDataPage(data, ""))
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()

	categories, err := ParseCategories(page, "__NEXT_DATA__", logger)

	require.NoError(t, err)
	require.Len(t, hook.AllEntries(), 3, "every dropped department is logged")
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "department skipped", entry.Message)
	}
	var fe *FieldExtractionError
	require.True(t, errors.As(hook.AllEntries()[0].Data[logrus.ErrorKey].(error), &fe))
	assert.Equal(t, 2, fe.Index)
	assert.Equal(t, "url", fe.Field)
	assert.Equal(t, []models.Category{
		{Name: "Pisos", URL: "https://example.test/sodimac-br/category/cat10008/pisos"},
		{Name: "Ferramentas", URL: "https://example.test/category/ferramentas"},
	}, categories)
}

func TestParseCategoriesMissingMenu(t *testing.T) {
	_, err := ParseCategories(newTestPage(t, nextDataPage(`{"props":{}}`, "")), "__NEXT_DATA__", nil)
	assert.Error(t, err)

	_, err = ParseCategories(newTestPage(t, nextDataPage(`{"props":{"pageProps":{"initialState":{"menu":{"departments":[]}}}}}`, "")), "__NEXT_DATA__", nil)
	assert.ErrorContains(t, err, "no categories found")
}
