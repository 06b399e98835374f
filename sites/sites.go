// Package sites holds extraction schemas and pagination rules for known
// listing sites, and loads custom ones from JSON.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-pages/extract"
	"github.com/aluiziolira/go-scrape-pages/paginate"
	"github.com/aluiziolira/go-scrape-pages/parser"
)

// Site bundles everything needed to crawl one listing.
type Site struct {
	Name     string
	StartURL string
	Schema   extract.Schema
	Rules    paginate.Rules
	// Required fields must be non-empty for a record to be written.
	Required []string
}

// Build validates the site and returns its extractor and navigator.
func (s Site) Build() (*extract.Extractor, *paginate.Navigator, error) {
	ex, err := extract.New(s.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("site %s: %w", s.Name, err)
	}
	nav, err := paginate.New(s.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("site %s: %w", s.Name, err)
	}
	columns := make(map[string]struct{}, len(s.Schema.Fields))
	for _, c := range s.Schema.Columns() {
		columns[c] = struct{}{}
	}
	for _, r := range s.Required {
		if _, ok := columns[r]; !ok {
			return nil, nil, fmt.Errorf("site %s: required field %q is not in the schema", s.Name, r)
		}
	}
	return ex, nav, nil
}

// Books targets books.toscrape.com.
func Books() Site {
	return Site{
		Name:     "books",
		StartURL: "https://books.toscrape.com/",
		Schema: extract.Schema{
			Container: "article.product_pod",
			Fields: []extract.Field{
				{Name: "title", Selector: "h3 a", Attr: "title"},
				{Name: "price", Selector: "p.price_color", Transform: parser.Price},
				{Name: "rating", Selector: "p.star-rating", ClassIndex: 1, Transform: parser.Rating},
				{Name: "availability", Selector: "p.availability", Transform: parser.Availability},
				{Name: "url", Selector: "h3 a", Attr: "href", Absolute: true},
				{Name: "image_url", Selector: "img", Attr: "src", Absolute: true},
			},
		},
		Rules: paginate.Rules{
			NextSelector:      "li.next a",
			IndicatorSelector: "li.current",
			PageTemplate:      "/catalogue/page-{n}.html",
		},
		Required: []string{"title", "url"},
	}
}

// Quotes targets quotes.toscrape.com, which has no page count indicator.
func Quotes() Site {
	return Site{
		Name:     "quotes",
		StartURL: "https://quotes.toscrape.com/",
		Schema: extract.Schema{
			Container: "div.quote",
			Fields: []extract.Field{
				{Name: "text", Selector: "span.text"},
				{Name: "author", Selector: "small.author"},
				{Name: "author_url", Selector: "span a", Attr: "href", Absolute: true},
				{Name: "tags", Selector: "div.tags a.tag", Multiple: true},
			},
		},
		Rules: paginate.Rules{
			NextSelector: "li.next a",
			PageTemplate: "/page/{n}/",
		},
		Required: []string{"text", "author"},
	}
}

var presets = map[string]func() Site{
	"books":  Books,
	"quotes": Quotes,
}

// Names lists the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the preset called name.
func Lookup(name string) (Site, error) {
	build, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Site{}, fmt.Errorf("unknown site %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return build(), nil
}

type fieldDefinition struct {
	Name        string `json:"name"`
	Selector    string `json:"selector"`
	Attr        string `json:"attr"`
	ClassIndex  int    `json:"class_index"`
	Multiple    bool   `json:"multiple"`
	Separator   string `json:"separator"`
	Absolute    bool   `json:"absolute"`
	Transform   string `json:"transform"`
	Placeholder any    `json:"placeholder"`
}

type definition struct {
	Name         string            `json:"name"`
	StartURL     string            `json:"start_url"`
	Container    string            `json:"container"`
	Fields       []fieldDefinition `json:"fields"`
	Next         string            `json:"next"`
	Indicator    string            `json:"indicator"`
	PageTemplate string            `json:"page_template"`
	Required     []string          `json:"required"`
}

// Load reads a JSON site definition from path.
func Load(path string) (Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Site{}, fmt.Errorf("read site definition: %w", err)
	}
	return Decode(data)
}

// Decode parses a JSON site definition.
func Decode(data []byte) (Site, error) {
	var def definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Site{}, fmt.Errorf("decode site definition: %w", err)
	}

	site := Site{
		Name:     def.Name,
		StartURL: def.StartURL,
		Schema:   extract.Schema{Container: def.Container},
		Rules: paginate.Rules{
			NextSelector:      def.Next,
			IndicatorSelector: def.Indicator,
			PageTemplate:      def.PageTemplate,
		},
		Required: def.Required,
	}
	if site.Name == "" {
		site.Name = "custom"
	}

	for _, fd := range def.Fields {
		transform, err := parser.Lookup(fd.Transform)
		if err != nil {
			return Site{}, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		site.Schema.Fields = append(site.Schema.Fields, extract.Field{
			Name:        fd.Name,
			Selector:    fd.Selector,
			Attr:        fd.Attr,
			ClassIndex:  fd.ClassIndex,
			Multiple:    fd.Multiple,
			Separator:   fd.Separator,
			Absolute:    fd.Absolute,
			Transform:   transform,
			Placeholder: fd.Placeholder,
		})
	}

	if _, _, err := site.Build(); err != nil {
		return Site{}, err
	}
	return site, nil
}
