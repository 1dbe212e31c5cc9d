package parser

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ParseCategories reads the department menu from the embedded data block of
// the home page. Entries without a name or URL are skipped and logged.
func ParseCategories(page *Page, elementID string, logger logrus.FieldLogger) ([]models.Category, error) {
	if logger == nil {
		logger = discardLogger()
	}
	block, err := embeddedData(page, elementID)
	if err != nil {
		return nil, &ParseError{Strategy: "categories", Reason: "embedded data block unavailable", Err: err}
	}
	entries, err := rawListAt(block, CategoryPath)
	if err != nil {
		return nil, &ParseError{Strategy: "categories", Reason: "department menu not found", Err: err}
	}

	var categories []models.Category
	skip := func(index int, field string, err error) {
		logger.WithError(&FieldExtractionError{Field: field, Index: index, Skipped: true, Err: err}).
			WithField("page", page.URL).
			Warn("department skipped")
	}
	for i, raw := range entries {
		var dept struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		if err := json.Unmarshal(raw, &dept); err != nil {
			skip(i, "department", err)
			continue
		}
		name := NormalizeText(dept.Name)
		link := ResolveURL(page.URL, dept.URL)
		if name == "" {
			skip(i, "name", errMissing)
			continue
		}
		if link == "" {
			skip(i, "url", errMissing)
			continue
		}
		categories = append(categories, models.Category{Name: name, URL: link})
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories found at %s", page.URL)
	}
	return categories, nil
}
