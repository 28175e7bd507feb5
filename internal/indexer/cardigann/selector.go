package cardigann

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// errFieldMissing signals that a required field produced no value. The
// parser drops the row and keeps going.
var errFieldMissing = errors.New("required field missing")

// ResponseType identifies the format of a search response body.
type ResponseType string

const (
	ResponseTypeHTML ResponseType = "html"
	ResponseTypeJSON ResponseType = "json"
	ResponseTypeXML  ResponseType = "xml"
)

// DetectResponseType sniffs a response body: JSON object/array prefix,
// XML declaration or feed root tag, otherwise HTML.
func DetectResponseType(body []byte) ResponseType {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(trimmed) == 0 {
		return ResponseTypeHTML
	}
	switch trimmed[0] {
	case '{', '[':
		return ResponseTypeJSON
	case '<':
		lower := bytes.ToLower(trimmed)
		for _, prefix := range []string{"<?xml", "<rss", "<feed", "<channel"} {
			if bytes.HasPrefix(lower, []byte(prefix)) {
				return ResponseTypeXML
			}
		}
	}
	return ResponseTypeHTML
}

// HTMLSelector provides CSS selector-based extraction from HTML and XML
// documents.
type HTMLSelector struct {
	doc *goquery.Document
}

// NewHTMLSelector creates a new HTML selector from raw HTML bytes.
func NewHTMLSelector(html []byte) (*HTMLSelector, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &HTMLSelector{doc: doc}, nil
}

// NewHTMLSelectorFromString creates a new HTML selector from an HTML string.
func NewHTMLSelectorFromString(html string) (*HTMLSelector, error) {
	return NewHTMLSelector([]byte(html))
}

// Select returns the first element matching the CSS selector.
func (s *HTMLSelector) Select(selector string) *goquery.Selection {
	return s.doc.Find(selector).First()
}

// SelectAll returns all elements matching the CSS selector.
func (s *HTMLSelector) SelectAll(selector string) *goquery.Selection {
	return s.doc.Find(selector)
}

// ExtractText extracts text content from a selection, or a named attribute
// when one is given.
func ExtractText(sel *goquery.Selection, attribute string) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}

	if attribute != "" {
		val, exists := sel.Attr(attribute)
		if exists {
			return strings.TrimSpace(val)
		}
		return ""
	}

	return strings.TrimSpace(sel.Text())
}

// ExtractAttribute extracts an attribute value from a selection.
func ExtractAttribute(sel *goquery.Selection, attr string) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	val, _ := sel.Attr(attr)
	return strings.TrimSpace(val)
}

// ExtractField extracts a value from a selection based on a Field
// definition. Selector and static text go through the template engine
// first, so definitions can reference settings and prior fields.
// Returns errFieldMissing when a non-optional field with no default
// produces nothing.
func ExtractField(sel *goquery.Selection, field Field, engine *TemplateEngine, ctx *TemplateContext) (string, error) {
	// Static/template text instead of a selector
	if field.Text != "" {
		value, err := engine.Evaluate(field.Text, ctx)
		if err != nil {
			value = ""
		}
		return finishField(value, field, engine, ctx)
	}

	selector := field.Selector
	if strings.Contains(selector, "{{") {
		if expanded, err := engine.Evaluate(selector, ctx); err == nil {
			selector = expanded
		}
	}

	var targetSel *goquery.Selection
	if selector != "" {
		targetSel = sel.Find(selector).First()
	} else {
		targetSel = sel
	}

	if targetSel.Length() == 0 {
		if field.Optional || field.Default != "" {
			return field.Default, nil
		}
		return "", errFieldMissing
	}

	// Remove unwanted elements before extraction
	if field.Remove != "" {
		targetSel = targetSel.Clone()
		targetSel.Find(field.Remove).Remove()
	}

	value := extractByAttribute(targetSel, field.Attribute)

	// Case mapping: keys are matched as values first, then as selectors
	// against the target element, with "*" as fallthrough.
	if len(field.Case) > 0 {
		value = applyCase(targetSel, value, field.Case)
	}

	return finishField(value, field, engine, ctx)
}

// extractByAttribute handles the text default plus the pseudo-attributes
// "text" and "html".
func extractByAttribute(sel *goquery.Selection, attribute string) string {
	switch attribute {
	case "", "text":
		return strings.TrimSpace(sel.Text())
	case "html":
		inner, err := sel.Html()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(inner)
	default:
		return ExtractAttribute(sel, attribute)
	}
}

func applyCase(sel *goquery.Selection, value string, cases map[string]string) string {
	if mapped, ok := cases[value]; ok && value != "" {
		return mapped
	}
	for key, mapped := range cases {
		if key == "*" {
			continue
		}
		if sel.Is(key) || sel.Find(key).Length() > 0 {
			return mapped
		}
	}
	if mapped, ok := cases["*"]; ok {
		return mapped
	}
	return value
}

// finishField runs the filter pipeline and applies default/optional rules.
func finishField(value string, field Field, engine *TemplateEngine, ctx *TemplateContext) (string, error) {
	if len(field.Filters) > 0 {
		value = ApplyFiltersWithContext(value, field.Filters, engine, ctx)
	}
	if value == "" {
		if field.Default != "" {
			return field.Default, nil
		}
		if !field.Optional && field.Text == "" {
			return "", errFieldMissing
		}
	}
	return value, nil
}

// ExtractRows finds result rows in the document, pruning removed elements
// and skipping leading header rows.
func (s *HTMLSelector) ExtractRows(rowSelector RowSelector) []*goquery.Selection {
	var rows []*goquery.Selection

	sel := s.doc.Find(rowSelector.Selector)

	if rowSelector.Remove != "" {
		sel.Find(rowSelector.Remove).Remove()
	}

	sel.Each(func(i int, row *goquery.Selection) {
		if i < rowSelector.After {
			return
		}
		rows = append(rows, row)
	})

	return rows
}

// GetDocument returns the underlying goquery document.
func (s *HTMLSelector) GetDocument() *goquery.Document {
	return s.doc
}

// FindText finds and returns the text content of the first matching element.
func (s *HTMLSelector) FindText(selector string) string {
	return ExtractText(s.Select(selector), "")
}

// FindAttr finds and returns an attribute value of the first matching element.
func (s *HTMLSelector) FindAttr(selector, attr string) string {
	return ExtractAttribute(s.Select(selector), attr)
}

// Exists returns true if at least one element matches the selector.
func (s *HTMLSelector) Exists(selector string) bool {
	return s.doc.Find(selector).Length() > 0
}

// Count returns the number of elements matching the selector.
func (s *HTMLSelector) Count(selector string) int {
	return s.doc.Find(selector).Length()
}
