// Package extract turns parsed pages into ordered records using a
// declarative field schema.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-pages/models"
	"github.com/aluiziolira/go-scrape-pages/parser"
)

// ErrParse marks a body that could not be turned into a document.
var ErrParse = errors.New("extract: unparsable document")

const defaultSeparator = ", "

// Field describes how to read one named value from a record container.
type Field struct {
	Name string
	// Selector is relative to the container; empty selects the container.
	Selector string
	// Attr reads an attribute instead of the element text.
	Attr string
	// ClassIndex > 0 reads that token of the class attribute.
	ClassIndex int
	// Multiple joins every match with Separator.
	Multiple  bool
	Separator string
	// Absolute resolves the value against the document URL.
	Absolute    bool
	Transform   parser.Transform
	Placeholder any
}

// Schema locates record containers and the fields inside them.
type Schema struct {
	Container string
	Fields    []Field
}

// Validate checks that the schema can be applied.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Container) == "" {
		return fmt.Errorf("schema container selector cannot be empty")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema must define at least one field")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema field %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema field %q defined twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.ClassIndex < 0 {
			return fmt.Errorf("schema field %q has negative class index", f.Name)
		}
	}
	return nil
}

// Columns returns the field names in schema order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// FieldMissing reports a field that fell back to its placeholder.
type FieldMissing struct {
	Record int
	Field  string
	Reason string
}

func (m FieldMissing) Error() string {
	return fmt.Sprintf("record %d: field %q missing: %s", m.Record, m.Field, m.Reason)
}

// Extractor applies a Schema to documents. It holds no state besides the
// schema, so one Extractor may be shared by concurrent crawls.
type Extractor struct {
	schema Schema
}

// New builds an extractor for schema.
func New(schema Schema) (*Extractor, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{schema: schema}, nil
}

// Schema returns the schema the extractor applies.
func (e *Extractor) Schema() Schema {
	return e.schema
}

// Extract returns one record per container in document order.
func (e *Extractor) Extract(doc *goquery.Document) []models.Record {
	records, _ := e.ExtractDetailed(doc)
	return records
}

// ExtractDetailed is Extract plus the fields that were absorbed as missing.
func (e *Extractor) ExtractDetailed(doc *goquery.Document) ([]models.Record, []FieldMissing) {
	if doc == nil {
		return nil, nil
	}

	containers := doc.Find(e.schema.Container)
	records := make([]models.Record, 0, containers.Length())
	var missing []FieldMissing

	containers.Each(func(i int, sel *goquery.Selection) {
		fields := make([]models.Field, 0, len(e.schema.Fields))
		for _, f := range e.schema.Fields {
			value, reason := readField(sel, f, doc.Url)
			if reason != "" {
				missing = append(missing, FieldMissing{Record: i, Field: f.Name, Reason: reason})
				value = f.Placeholder
			}
			fields = append(fields, models.Field{Name: f.Name, Value: value})
		}
		records = append(records, models.NewRecord(fields...))
	})

	return records, missing
}

func readField(container *goquery.Selection, f Field, base *url.URL) (any, string) {
	target := container
	if f.Selector != "" {
		target = container.Find(f.Selector)
	}
	if target.Length() == 0 {
		return nil, "no match"
	}

	var raw string
	if f.Multiple {
		parts := make([]string, 0, target.Length())
		target.Each(func(_ int, s *goquery.Selection) {
			if v, ok := rawValue(s, f, base); ok {
				parts = append(parts, v)
			}
		})
		sep := f.Separator
		if sep == "" {
			sep = defaultSeparator
		}
		raw = strings.Join(parts, sep)
	} else {
		v, ok := rawValue(target.First(), f, base)
		if !ok {
			return nil, "empty value"
		}
		raw = v
	}

	transform := f.Transform
	if transform == nil {
		transform = parser.Trim
	}
	value, err := transform(raw)
	if err != nil {
		if errors.Is(err, parser.ErrEmpty) {
			return nil, "empty value"
		}
		return nil, err.Error()
	}
	return value, ""
}

func rawValue(s *goquery.Selection, f Field, base *url.URL) (string, bool) {
	var v string
	switch {
	case f.ClassIndex > 0:
		class, ok := s.Attr("class")
		if !ok {
			return "", false
		}
		parts := strings.Fields(class)
		if len(parts) <= f.ClassIndex {
			return "", false
		}
		v = parts[f.ClassIndex]
	case f.Attr != "":
		attr, ok := s.Attr(f.Attr)
		if !ok {
			return "", false
		}
		v = attr
	default:
		v = s.Text()
	}

	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if f.Absolute {
		abs, ok := resolve(base, v)
		if !ok {
			return "", false
		}
		v = abs
	}
	return v, true
}

func resolve(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if base == nil {
		return u.String(), true
	}
	return base.ResolveReference(u).String(), true
}

// Parse builds a document from a fetched body. The page address is kept on
// the document so relative links can be resolved during extraction.
func Parse(body []byte, contentType string, pageURL *url.URL) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrParse)
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: content type %q: %v", ErrParse, contentType, err)
		}
		if !strings.Contains(mediaType, "html") && !strings.Contains(mediaType, "xml") {
			return nil, fmt.Errorf("%w: unsupported content type %q", ErrParse, mediaType)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	doc.Url = pageURL
	return doc, nil
}
