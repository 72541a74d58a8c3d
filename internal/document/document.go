// Package document locates remote images in an HTML body and points them at
// embedded parts.
package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CIDScheme prefixes the src of an image served from an inline part.
const CIDScheme = "cid:"

// Document is a parsed HTML body.
type Document struct {
	doc *goquery.Document
}

// Parse parses an HTML document. The parser is lenient; malformed markup is
// repaired the way a browser would.
func Parse(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ImageURLs returns the distinct remote src values of all img elements,
// sorted. Only values starting with "http://" or "https://" count; data
// URIs, relative paths and cid references are ignored.
func (d *Document) ImageURLs() []string {
	seen := make(map[string]bool)
	var urls []string

	d.doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if !IsRemote(src) || seen[src] {
			return
		}
		seen[src] = true
		urls = append(urls, src)
	})

	sort.Strings(urls)
	return urls
}

// Rewrite points every img whose src is a key of urlToID at "cid:<id>" and
// returns the number of elements changed. Other elements are untouched.
func (d *Document) Rewrite(urlToID map[string]string) int {
	if len(urlToID) == 0 {
		return 0
	}

	n := 0
	d.doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		id, ok := urlToID[src]
		if !ok {
			return
		}
		s.SetAttr("src", CIDScheme+id)
		n++
	})
	return n
}

// HTML serializes the document.
func (d *Document) HTML() (string, error) {
	out, err := d.doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return out, nil
}

// IsRemote reports whether src is an absolute http or https URL. The scheme
// match is case-sensitive.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// ExtractImageURLs parses html and returns its distinct remote image URLs.
func ExtractImageURLs(html string) ([]string, error) {
	d, err := Parse(html)
	if err != nil {
		return nil, err
	}
	return d.ImageURLs(), nil
}

// Rewrite parses html, applies urlToID and returns the serialized result.
func Rewrite(html string, urlToID map[string]string) (string, error) {
	d, err := Parse(html)
	if err != nil {
		return "", err
	}
	d.Rewrite(urlToID)
	return d.HTML()
}
