// Package paginate finds the next page of a paginated listing and, where
// the site exposes it, the total page count.
package paginate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const pagePlaceholder = "{n}"

var pageOfPattern = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)

// Rules describe the pagination controls of a site.
type Rules struct {
	// NextSelector matches the "next page" anchor.
	NextSelector string
	// IndicatorSelector matches the "Page X of Y" text, if the site has one.
	IndicatorSelector string
	// PageTemplate builds the address of page n, e.g. "/catalogue/page-{n}.html".
	PageTemplate string
}

// Validate checks that the rules can drive a crawl.
func (r Rules) Validate() error {
	if strings.TrimSpace(r.NextSelector) == "" {
		return fmt.Errorf("next page selector cannot be empty")
	}
	if r.PageTemplate != "" && !strings.Contains(r.PageTemplate, pagePlaceholder) {
		return fmt.Errorf("page template %q must contain %s", r.PageTemplate, pagePlaceholder)
	}
	return nil
}

// Navigator applies Rules to parsed pages.
type Navigator struct {
	rules Rules
}

// New builds a navigator for rules.
func New(rules Rules) (*Navigator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Navigator{rules: rules}, nil
}

// Rules returns the rules the navigator applies.
func (n *Navigator) Rules() Rules {
	return n.rules
}

// Next returns the absolute address of the next page. When several links
// match, the first one in document order wins.
func (n *Navigator) Next(doc *goquery.Document, current *url.URL) (*url.URL, bool) {
	if doc == nil {
		return nil, false
	}
	href, ok := doc.Find(n.rules.NextSelector).First().Attr("href")
	if !ok {
		return nil, false
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	if current == nil {
		if !ref.IsAbs() {
			return nil, false
		}
		return ref, true
	}
	return current.ResolveReference(ref), true
}

// Candidates reports how many elements match the next page selector.
func (n *Navigator) Candidates(doc *goquery.Document) int {
	if doc == nil {
		return 0
	}
	return doc.Find(n.rules.NextSelector).Length()
}

// TotalPages reads the "Page X of Y" indicator and returns Y.
func (n *Navigator) TotalPages(doc *goquery.Document) (int, bool) {
	_, total, ok := n.Position(doc)
	return total, ok
}

// Position reads the "Page X of Y" indicator and returns X and Y.
func (n *Navigator) Position(doc *goquery.Document) (current, total int, ok bool) {
	if doc == nil || n.rules.IndicatorSelector == "" {
		return 0, 0, false
	}
	text := doc.Find(n.rules.IndicatorSelector).First().Text()
	m := pageOfPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	current, err := strconv.Atoi(m[1])
	if err != nil || current <= 0 {
		return 0, 0, false
	}
	total, err = strconv.Atoi(m[2])
	if err != nil || total < current {
		return 0, 0, false
	}
	return current, total, true
}

// CanDiscover reports whether page addresses can be built without following links.
func (n *Navigator) CanDiscover() bool {
	return n.rules.IndicatorSelector != "" && n.rules.PageTemplate != ""
}

// PageURL builds the address of page number page, resolved against start.
func (n *Navigator) PageURL(start *url.URL, page int) (*url.URL, error) {
	if n.rules.PageTemplate == "" {
		return nil, fmt.Errorf("no page template configured")
	}
	if page <= 0 {
		return nil, fmt.Errorf("page number must be positive, got %d", page)
	}
	ref, err := url.Parse(strings.ReplaceAll(n.rules.PageTemplate, pagePlaceholder, strconv.Itoa(page)))
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	if start == nil {
		return ref, nil
	}
	return start.ResolveReference(ref), nil
}
