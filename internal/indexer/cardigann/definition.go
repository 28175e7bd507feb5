// Package cardigann implements the YAML-driven indexer runtime: a generic
// interpreter that turns a Cardigann-style site definition (selectors,
// templates, filters, login flow, search paths) into working search and
// download behavior against arbitrary torrent/usenet/streaming sites.
package cardigann

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringOrArray unmarshals from either a YAML scalar or a sequence of
// scalars, storing a single joined string either way.
type StringOrArray string

// UnmarshalYAML implements custom YAML unmarshaling for StringOrArray.
func (s *StringOrArray) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = StringOrArray(value.Value)
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := value.Decode(&arr); err != nil {
			return err
		}
		if len(arr) > 0 {
			*s = StringOrArray(strings.Join(arr, ", "))
		}
		return nil
	default:
		return fmt.Errorf("cannot unmarshal %v into StringOrArray", value.Kind)
	}
}

// Definition is a parsed Cardigann YAML definition. It is loaded once per
// site, cached for the process lifetime and never mutated at runtime.
type Definition struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Language     string   `yaml:"language"`
	Type         string   `yaml:"type"`     // public, private, semi-private
	Protocol     string   `yaml:"protocol"` // torrent (default), usenet, streaming
	Encoding     string   `yaml:"encoding"` // response encoding when not UTF-8
	RequestDelay float64  `yaml:"requestDelay"` // seconds between requests
	Links        []string `yaml:"links"`
	LegacyLinks  []string `yaml:"legacylinks"`

	Caps     Capabilities   `yaml:"caps"`
	Settings []Setting      `yaml:"settings"`
	Login    *LoginBlock    `yaml:"login"`
	Search   SearchBlock    `yaml:"search"`
	Download *DownloadBlock `yaml:"download"`
}

// Capabilities describes supported search modes and category mappings.
type Capabilities struct {
	CategoryMappings []CategoryMapping   `yaml:"categorymappings"`
	Modes            map[string][]string `yaml:"modes"` // search, tv-search, movie-search, music-search, book-search
	AllowRawSearch   bool                `yaml:"allowrawsearch"`
}

// CategoryMapping maps an indexer-native category ID to a Newznab category.
type CategoryMapping struct {
	ID      string `yaml:"id"`
	Cat     string `yaml:"cat"` // Newznab category name (e.g. "Movies/HD")
	Desc    string `yaml:"desc"`
	Default bool   `yaml:"default"`
}

// Setting defines a user-configurable option for the indexer.
type Setting struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"` // text, password, checkbox, select, info
	Label   string            `yaml:"label" json:"label"`
	Default string            `yaml:"default" json:"default,omitempty"`
	Options map[string]string `yaml:"options" json:"options,omitempty"`
}

// LoginBlock defines how to authenticate with the site.
type LoginBlock struct {
	Path           string                   `yaml:"path"`
	Method         string                   `yaml:"method"` // form, post, cookie, get, apikey, passkey
	Form           string                   `yaml:"form"`   // CSS selector for the form element
	Inputs         map[string]string        `yaml:"inputs"`
	SelectorInputs map[string]SelectorDef   `yaml:"selectorinputs"`
	Error          []ErrorSelector          `yaml:"error"`
	Test           TestBlock                `yaml:"test"`
	Captcha        *CaptchaBlock            `yaml:"captcha"`
	Cookies        []string                 `yaml:"cookies"` // required cookie names after login
	Headers        map[string]StringOrArray `yaml:"headers"`
}

// SelectorDef extracts a value with a CSS selector, used for hidden form
// fields and CSRF tokens during form login.
type SelectorDef struct {
	Selector  string   `yaml:"selector"`
	Attribute string   `yaml:"attribute"`
	Filters   []Filter `yaml:"filters"`
}

// ErrorSelector detects an error condition and extracts its message.
type ErrorSelector struct {
	Selector string          `yaml:"selector"`
	Message  *TextOrSelector `yaml:"message"`
}

// TextOrSelector is either static text or a selector definition.
type TextOrSelector struct {
	Text     string `yaml:"text"`
	Selector string `yaml:"selector"`
}

// TestBlock verifies a successful login session.
type TestBlock struct {
	Path     string `yaml:"path"`
	Selector string `yaml:"selector"`
}

// CaptchaBlock marks a login flow as captcha-protected.
type CaptchaBlock struct {
	Type     string `yaml:"type"`
	Selector string `yaml:"selector"`
	Input    string `yaml:"input"`
	SiteKey  string `yaml:"sitekey"`
}

// SignatureCheck matches response content, used to detect "needs login"
// pages served in place of search results after session expiry.
type SignatureCheck struct {
	Selector string `yaml:"selector"`
	Contains string `yaml:"contains"`
	Path     string `yaml:"path"` // URL path fragment (e.g. a login redirect target)
}

// SearchBlock defines how to execute searches and parse results.
type SearchBlock struct {
	Paths           []SearchPath             `yaml:"paths"`
	Inputs          map[string]string        `yaml:"inputs"`
	KeywordsFilters []Filter                 `yaml:"keywordsfilters"`
	Headers         map[string]StringOrArray `yaml:"headers"`
	Rows            RowSelector              `yaml:"rows"`
	Fields          map[string]Field         `yaml:"fields"`
	Error           []ErrorSelector          `yaml:"error"`
	NeedsLogin      *SignatureCheck          `yaml:"needslogin"`
}

// SearchPath defines one search endpoint, optionally restricted to
// categories.
type SearchPath struct {
	Path           string            `yaml:"path"`
	Method         string            `yaml:"method"` // GET (default) or POST
	Categories     []string          `yaml:"categories"`
	Inputs         map[string]string `yaml:"inputs"`
	Response       *ResponseConfig   `yaml:"response"`
	FollowRedirect bool              `yaml:"followredirect"`
}

// ResponseConfig hints at the response format of a search path.
type ResponseConfig struct {
	Type             string `yaml:"type"` // json, xml, html
	NoResultsMessage string `yaml:"noresultsmessage"`
}

// RowSelector locates result rows in a response.
type RowSelector struct {
	Selector    string       `yaml:"selector"`
	After       int          `yaml:"after"`     // skip N leading rows (header rows)
	Remove      string       `yaml:"remove"`    // prune elements matching this selector
	Attribute   string       `yaml:"attribute"` // JSON: field holding the actual row object
	Multiple    string       `yaml:"multiple"`  // JSON: field naming a nested array of sub-results
	DateHeaders *DateHeaders `yaml:"dateheaders"`
	Count       *CountBlock  `yaml:"count"`
	// JSON: a missing row attribute means the site returned no results
	MissingAttributeEqualsNoResults bool `yaml:"missingattributeequalsnoresults"`
}

// DateHeaders handles sites that group result rows under date header rows.
type DateHeaders struct {
	Selector string   `yaml:"selector"`
	Filters  []Filter `yaml:"filters"`
}

// CountBlock validates the advertised result count.
type CountBlock struct {
	Selector string   `yaml:"selector"`
	Filters  []Filter `yaml:"filters"`
}

// Field extracts one piece of data from a result row.
type Field struct {
	Selector  string            `yaml:"selector"`
	Attribute string            `yaml:"attribute"` // text (default), href, src, html, ...
	Text      string            `yaml:"text"`      // static/template value instead of a selector
	Remove    string            `yaml:"remove"`    // prune before extracting
	Optional  bool              `yaml:"optional"`
	Default   string            `yaml:"default"`
	Filters   []Filter          `yaml:"filters"`
	Case      map[string]string `yaml:"case"` // value mapping, "*" = fallthrough
}

// Filter is one value-transform invocation in a field's filter pipeline.
type Filter struct {
	Name string      `yaml:"name"`
	Args interface{} `yaml:"args"` // string, []string, or nil
}

// DownloadBlock configures download URL construction and pre-download
// requests.
type DownloadBlock struct {
	Selectors []SelectorDef  `yaml:"selectors"`
	Before    *BeforeRequest `yaml:"before"`
	InfoHash  *InfoHashBlock `yaml:"infohash"`
	Method    string         `yaml:"method"`
}

// BeforeRequest is a request issued before downloading.
type BeforeRequest struct {
	Path    string                   `yaml:"path"`
	Method  string                   `yaml:"method"`
	Inputs  map[string]string        `yaml:"inputs"`
	Headers map[string]StringOrArray `yaml:"headers"`
}

// InfoHashBlock extracts magnet info from a download page.
type InfoHashBlock struct {
	Hash  Field `yaml:"hash"`
	Title Field `yaml:"title"`
}

// ParseDefinition parses a Cardigann YAML definition from bytes.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition YAML: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("definition has no id")
	}
	return &def, nil
}

// ParseDefinitionFile parses a Cardigann YAML definition from a file.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return ParseDefinition(data)
}

// BaseURL returns the primary URL for this indexer.
func (d *Definition) BaseURL() string {
	if len(d.Links) > 0 {
		return d.Links[0]
	}
	return ""
}

// AllURLs returns the primary URL followed by every mirror, in declared
// order. Legacy links come last.
func (d *Definition) AllURLs() []string {
	urls := make([]string, 0, len(d.Links)+len(d.LegacyLinks))
	urls = append(urls, d.Links...)
	urls = append(urls, d.LegacyLinks...)
	return urls
}

// GetProtocol returns the download protocol for this definition.
func (d *Definition) GetProtocol() string {
	if d.Protocol != "" {
		return d.Protocol
	}
	return "torrent"
}

// GetPrivacy returns the privacy level (public when unset).
func (d *Definition) GetPrivacy() string {
	if d.Type == "" {
		return "public"
	}
	return d.Type
}

// HasLogin reports whether this indexer requires authentication.
func (d *Definition) HasLogin() bool {
	return d.Login != nil && d.Login.Method != ""
}

// SupportsMode reports whether the definition declares the search mode
// ("search", "tv-search", "movie-search", "music-search", "book-search").
func (d *Definition) SupportsMode(mode string) bool {
	if d.Caps.Modes == nil {
		return false
	}
	_, ok := d.Caps.Modes[mode]
	return ok
}

// SettingDefaults returns the declared default for every definition setting
// merged under the supplied user settings. Checkbox settings are only
// carried when explicitly enabled.
func (d *Definition) SettingDefaults(settings map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, s := range d.Settings {
		if s.Type == "checkbox" {
			if v, ok := settings[s.Name]; ok && v == "true" {
				merged[s.Name] = "true"
			}
			continue
		}
		if s.Default != "" {
			merged[s.Name] = s.Default
		}
	}
	for k, v := range settings {
		if d.settingType(k) != "checkbox" {
			merged[k] = v
		}
	}
	return merged
}

func (d *Definition) settingType(name string) string {
	for _, s := range d.Settings {
		if s.Name == name {
			return s.Type
		}
	}
	return ""
}
