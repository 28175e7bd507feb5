package cardigann

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONSelector provides dot-notation path extraction from JSON data.
type JSONSelector struct {
	data interface{}
}

// NewJSONSelector creates a new JSON selector from raw JSON bytes.
func NewJSONSelector(jsonBytes []byte) (*JSONSelector, error) {
	var data interface{}
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &JSONSelector{data: data}, nil
}

// NewJSONSelectorFromData creates a new JSON selector from parsed data.
func NewJSONSelectorFromData(data interface{}) *JSONSelector {
	return &JSONSelector{data: data}
}

// Select extracts a value using dot notation path.
// Supports: object.field, array[0], negative indices, object.nested.field
func (s *JSONSelector) Select(path string) (interface{}, error) {
	if path == "" || path == "." {
		return s.data, nil
	}

	return selectPath(s.data, path)
}

// SelectString extracts a value and converts it to string.
func (s *JSONSelector) SelectString(path string) (string, error) {
	val, err := s.Select(path)
	if err != nil {
		return "", err
	}
	return toString(val), nil
}

// SelectArray extracts an array value.
func (s *JSONSelector) SelectArray(path string) ([]interface{}, error) {
	val, err := s.Select(path)
	if err != nil {
		return nil, err
	}
	if arr, ok := val.([]interface{}); ok {
		return arr, nil
	}
	return nil, fmt.Errorf("value at path %s is not an array", path)
}

// Exists returns true if the path exists in the JSON.
func (s *JSONSelector) Exists(path string) bool {
	_, err := s.Select(path)
	return err == nil
}

// selectPath navigates through the data structure using the path.
func selectPath(data interface{}, path string) (interface{}, error) {
	if data == nil {
		return nil, fmt.Errorf("nil data")
	}

	segments := parsePath(path)
	current := data

	for _, seg := range segments {
		if current == nil {
			return nil, fmt.Errorf("null value at path segment: %s", seg)
		}

		// Handle array index
		if idx, isIndex := parseArrayIndex(seg); isIndex {
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("expected array at %s", seg)
			}
			if idx < 0 {
				idx = len(arr) + idx
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("array index out of bounds: %d", idx)
			}
			current = arr[idx]
			continue
		}

		// Handle object key
		switch v := current.(type) {
		case map[string]interface{}:
			val, exists := v[seg]
			if !exists {
				return nil, fmt.Errorf("key not found: %s", seg)
			}
			current = val
		default:
			return nil, fmt.Errorf("cannot access field %s on %T", seg, current)
		}
	}

	return current, nil
}

// parsePath splits a dot-notation path into segments.
func parsePath(path string) []string {
	var segments []string
	var current strings.Builder

	inBracket := false
	for _, r := range path {
		switch r {
		case '.':
			if !inBracket && current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			} else if inBracket {
				current.WriteRune(r)
			}
		case '[':
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			inBracket = true
		case ']':
			if inBracket && current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			inBracket = false
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	return segments
}

// parseArrayIndex checks if a segment is an array index and returns it.
func parseArrayIndex(seg string) (int, bool) {
	if idx, err := strconv.Atoi(seg); err == nil {
		return idx, true
	}
	return 0, false
}

// toString converts a decoded JSON value to string. Whole floats render
// without a fractional part.
func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ExtractJSONField extracts a value from JSON data using a Field
// definition. Returns errFieldMissing for required fields that resolve to
// nothing, mirroring the HTML extraction path.
func ExtractJSONField(data interface{}, field Field, engine *TemplateEngine, ctx *TemplateContext) (string, error) {
	// Static/template text instead of a path
	if field.Text != "" {
		value, err := engine.Evaluate(field.Text, ctx)
		if err != nil {
			value = ""
		}
		return finishJSONField(value, field, engine, ctx)
	}

	selector := NewJSONSelectorFromData(data)

	value, err := selector.SelectString(field.Selector)
	if err != nil {
		if field.Optional || field.Default != "" {
			return field.Default, nil
		}
		return "", errFieldMissing
	}

	// Case mapping by value only; there is no element to match selectors
	// against in JSON.
	if len(field.Case) > 0 {
		if mapped, ok := field.Case[value]; ok {
			value = mapped
		} else if defaultVal, ok := field.Case["*"]; ok {
			value = defaultVal
		}
	}

	return finishJSONField(value, field, engine, ctx)
}

func finishJSONField(value string, field Field, engine *TemplateEngine, ctx *TemplateContext) (string, error) {
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
