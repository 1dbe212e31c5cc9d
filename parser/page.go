package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the raw content of one listing page plus its URL, which relative
// product links are resolved against. The DOM is parsed at most once.
type Page struct {
	URL     *url.URL
	Content string

	doc    *goquery.Document
	docErr error
	parsed bool
}

// NewPage wraps content fetched from rawURL.
func NewPage(rawURL, content string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	return &Page{URL: u, Content: content}, nil
}

// Document returns the parsed DOM of the page.
func (p *Page) Document() (*goquery.Document, error) {
	if !p.parsed {
		p.doc, p.docErr = goquery.NewDocumentFromReader(strings.NewReader(p.Content))
		p.parsed = true
	}
	return p.doc, p.docErr
}

// HasNextLink reports whether the page contains an element matching selector.
func (p *Page) HasNextLink(selector string) bool {
	doc, err := p.Document()
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}
