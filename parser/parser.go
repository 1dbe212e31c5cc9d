// Package parser turns raw listing pages into catalog records through an
// ordered chain of extraction strategies.
package parser

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ValidateRecord ensures the core fields of a record were captured.
func ValidateRecord(r models.Record) error {
	if isMissing(r.Name) {
		return &FieldExtractionError{Field: "name", Err: errMissing}
	}
	if isMissing(r.URL) {
		return &FieldExtractionError{Field: "url", Err: errMissing}
	}
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &FieldExtractionError{Field: "url", Err: fmt.Errorf("not an absolute URL: %q", r.URL)}
	}
	return nil
}

// NormalizeText collapses runs of whitespace (including non-breaking spaces)
// into single spaces and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// OrNotAvailable returns the normalized value, or the sentinel when empty.
func OrNotAvailable(value string) string {
	value = NormalizeText(value)
	if value == "" {
		return models.NotAvailable
	}
	return value
}

// ResolveURL makes href absolute against base. Empty hrefs yield "".
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}

func isMissing(value string) bool {
	value = strings.TrimSpace(value)
	return value == "" || value == models.NotAvailable
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
