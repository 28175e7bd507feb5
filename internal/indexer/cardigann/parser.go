package cardigann

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
)

// ResponseParser turns a raw search response body into release results.
// Row-level failures are swallowed or recorded; a parse call never fails
// wholesale once the body is readable, so partial results survive broken
// rows.
type ResponseParser struct {
	def         *Definition
	engine      *TemplateEngine
	indexerID   int64
	indexerName string
	protocol    indexer.Protocol
	logger      zerolog.Logger
}

// NewResponseParser creates a parser bound to a definition and the shared
// template engine.
func NewResponseParser(def *Definition, engine *TemplateEngine, indexerID int64, indexerName string, logger zerolog.Logger) *ResponseParser {
	return &ResponseParser{
		def:         def,
		engine:      engine,
		indexerID:   indexerID,
		indexerName: indexerName,
		protocol:    indexer.Protocol(def.GetProtocol()),
		logger:      logger.With().Str("component", "parser").Str("indexer", def.ID).Logger(),
	}
}

// Parse dispatches on response type, sniffing when the search path gave no
// hint.
func (p *ResponseParser) Parse(body []byte, hint ResponseType) *indexer.SearchResults {
	results := &indexer.SearchResults{}

	responseType := hint
	if responseType == "" {
		responseType = DetectResponseType(body)
	}

	switch responseType {
	case ResponseTypeJSON:
		p.parseJSON(body, results)
	default:
		// XML feeds parse fine through the HTML tree
		p.parseHTML(body, results)
	}

	p.logger.Debug().
		Int("results", len(results.Releases)).
		Int("errors", len(results.Errors)).
		Str("type", string(responseType)).
		Msg("Parsed search response")

	return results
}

// parseHTML handles HTML and XML responses.
func (p *ResponseParser) parseHTML(body []byte, results *indexer.SearchResults) {
	htmlSel, err := NewHTMLSelector(body)
	if err != nil {
		results.Errors = append(results.Errors, indexer.SearchError{
			Phase: "parse", Message: fmt.Sprintf("failed to parse HTML: %v", err),
		})
		return
	}

	if msg := p.checkErrorSelectors(htmlSel); msg != "" {
		results.Errors = append(results.Errors, indexer.SearchError{Phase: "parse", Message: msg})
		return
	}

	if !p.advertisedCountPositive(htmlSel) {
		return
	}

	rows := p.def.Search.Rows
	if rows.DateHeaders != nil && rows.DateHeaders.Selector != "" {
		p.parseHTMLWithDateHeaders(htmlSel, results)
		return
	}

	for _, row := range htmlSel.ExtractRows(rows) {
		p.appendHTMLRow(row, time.Time{}, results)
	}
}

// advertisedCountPositive checks the optional count selector. Sites that
// render an explicit "0 results" banner skip row parsing entirely; a
// missing or unparseable count never suppresses rows.
func (p *ResponseParser) advertisedCountPositive(htmlSel *HTMLSelector) bool {
	count := p.def.Search.Rows.Count
	if count == nil || count.Selector == "" {
		return true
	}

	sel := htmlSel.Select(count.Selector)
	if sel.Length() == 0 {
		return true
	}

	raw := strings.TrimSpace(sel.First().Text())
	raw = ApplyFiltersWithContext(raw, count.Filters, p.engine, p.engine.Context())
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return true
	}
	return n > 0
}

// parseHTMLWithDateHeaders walks date-header rows and data rows in
// document order. A header row sets the date carried into following data
// rows that lack their own.
func (p *ResponseParser) parseHTMLWithDateHeaders(htmlSel *HTMLSelector, results *indexer.SearchResults) {
	rows := p.def.Search.Rows
	headers := rows.DateHeaders

	combined := htmlSel.SelectAll(headers.Selector + ", " + rows.Selector)
	if rows.Remove != "" {
		combined.Find(rows.Remove).Remove()
	}

	var currentDate time.Time
	dataIndex := 0
	combined.Each(func(_ int, sel *goquery.Selection) {
		if sel.Is(headers.Selector) {
			raw := strings.TrimSpace(sel.Text())
			raw = ApplyFiltersWithContext(raw, headers.Filters, p.engine, p.engine.Context())
			if t, ok := parseFlexibleDate(raw); ok {
				currentDate = t
			}
			return
		}
		if dataIndex < rows.After {
			dataIndex++
			return
		}
		dataIndex++
		p.appendHTMLRow(sel, currentDate, results)
	})
}

func (p *ResponseParser) appendHTMLRow(row *goquery.Selection, stickyDate time.Time, results *indexer.SearchResults) {
	extract := func(field Field, ctx *TemplateContext) (string, error) {
		return ExtractField(row, field, p.engine, ctx)
	}
	release, err := p.buildRelease(extract, stickyDate)
	if err != nil {
		// Incomplete rows are expected on real sites; drop quietly
		p.logger.Debug().Err(err).Msg("Dropped result row")
		return
	}
	if release != nil {
		results.Releases = append(results.Releases, *release)
	}
}

// parseJSON handles JSON responses, including the nested-array multiple
// directive where one parent row fans out into several results.
func (p *ResponseParser) parseJSON(body []byte, results *indexer.SearchResults) {
	jsonSel, err := NewJSONSelector(body)
	if err != nil {
		results.Errors = append(results.Errors, indexer.SearchError{
			Phase: "parse", Message: fmt.Sprintf("failed to parse JSON: %v", err),
		})
		return
	}

	rows := p.def.Search.Rows
	rowsData, err := jsonSel.SelectArray(rows.Selector)
	if err != nil {
		// An absent rows path is an empty result set, not an error
		p.logger.Debug().Err(err).Str("path", rows.Selector).Msg("No rows in JSON response")
		return
	}

	for i, rowData := range rowsData {
		if i < rows.After {
			continue
		}

		rowData, ok := p.unwrapRowAttribute(rowData)
		if !ok {
			if rows.MissingAttributeEqualsNoResults {
				results.Releases = nil
				return
			}
			continue
		}

		for _, item := range p.expandMultiple(rowData) {
			p.appendJSONRow(item, results)
		}
	}
}

// unwrapRowAttribute digs into the configured attribute field when rows
// are wrapped objects. The second return is false when the attribute is
// configured but absent from the row.
func (p *ResponseParser) unwrapRowAttribute(rowData interface{}) (interface{}, bool) {
	attr := p.def.Search.Rows.Attribute
	if attr == "" {
		return rowData, true
	}
	rowMap, ok := rowData.(map[string]interface{})
	if !ok {
		return rowData, true
	}
	inner, ok := rowMap[attr]
	if !ok {
		return nil, false
	}
	return inner, true
}

// expandMultiple splits a parent row carrying a nested result array into
// one merged object per nested item. Child fields override parent fields
// on name collision.
func (p *ResponseParser) expandMultiple(rowData interface{}) []interface{} {
	multiple := p.def.Search.Rows.Multiple
	if multiple == "" {
		return []interface{}{rowData}
	}

	parent, ok := rowData.(map[string]interface{})
	if !ok {
		return []interface{}{rowData}
	}
	nested, ok := parent[multiple].([]interface{})
	if !ok || len(nested) == 0 {
		return []interface{}{rowData}
	}

	items := make([]interface{}, 0, len(nested))
	for _, child := range nested {
		childMap, ok := child.(map[string]interface{})
		if !ok {
			continue
		}
		merged := make(map[string]interface{}, len(parent)+len(childMap))
		for k, v := range parent {
			if k == multiple {
				continue
			}
			merged[k] = v
		}
		for k, v := range childMap {
			merged[k] = v
		}
		items = append(items, merged)
	}
	return items
}

func (p *ResponseParser) appendJSONRow(rowData interface{}, results *indexer.SearchResults) {
	extract := func(field Field, ctx *TemplateContext) (string, error) {
		return ExtractJSONField(rowData, field, p.engine, ctx)
	}
	release, err := p.buildRelease(extract, time.Time{})
	if err != nil {
		p.logger.Debug().Err(err).Msg("Dropped JSON result row")
		return
	}
	if release != nil {
		results.Releases = append(results.Releases, *release)
	}
}

// checkErrorSelectors returns a message when the response matches a
// definition error selector.
func (p *ResponseParser) checkErrorSelectors(htmlSel *HTMLSelector) string {
	for _, errSel := range p.def.Search.Error {
		if !htmlSel.Exists(errSel.Selector) {
			continue
		}
		msg := "search error reported by site"
		if errSel.Message != nil {
			if errSel.Message.Text != "" {
				msg = errSel.Message.Text
			} else if errSel.Message.Selector != "" {
				if text := htmlSel.FindText(errSel.Message.Selector); text != "" {
					msg = text
				}
			}
		}
		return msg
	}
	return ""
}

type extractFunc func(Field, *TemplateContext) (string, error)

// buildRelease runs two-pass field extraction against one row and maps the
// values onto a release. The second pass handles fields whose templates
// reference earlier results via .Result.
func (p *ResponseParser) buildRelease(extract extractFunc, stickyDate time.Time) (*indexer.ReleaseResult, error) {
	localCtx := *p.engine.Context()
	localCtx.Result = make(map[string]string)

	if err := p.extractFieldsPass(extract, &localCtx, false); err != nil {
		return nil, err
	}
	if err := p.extractFieldsPass(extract, &localCtx, true); err != nil {
		return nil, err
	}

	release := &indexer.ReleaseResult{
		IndexerID:            p.indexerID,
		IndexerName:          p.indexerName,
		Protocol:             p.protocol,
		DownloadVolumeFactor: 1,
		UploadVolumeFactor:   1,
	}

	for fieldName, val := range localCtx.Result {
		p.mapFieldToRelease(release, fieldName, val)
	}

	if release.Title == "" {
		return nil, fmt.Errorf("missing title")
	}
	if release.DownloadURL == "" && release.MagnetURL == "" && release.InfoHash == "" {
		return nil, fmt.Errorf("missing download URL, magnet and infohash")
	}

	p.finalizeRelease(release, &localCtx, stickyDate)
	return release, nil
}

func (p *ResponseParser) extractFieldsPass(extract extractFunc, localCtx *TemplateContext, resultRefs bool) error {
	for fieldName, fieldDef := range p.def.Search.Fields {
		hasResultRef := fieldDef.Text != "" && strings.Contains(fieldDef.Text, ".Result")
		if hasResultRef != resultRefs {
			continue
		}
		val, err := extract(fieldDef, localCtx)
		if err != nil {
			if !fieldDef.Optional {
				return fmt.Errorf("failed to extract %s: %w", fieldName, err)
			}
			continue
		}
		localCtx.Result[fieldName] = val
	}
	return nil
}

type fieldMapper func(*indexer.ReleaseResult, string)

var fieldMappers = map[string]fieldMapper{
	"title":                func(r *indexer.ReleaseResult, v string) { r.Title = v },
	"download":             func(r *indexer.ReleaseResult, v string) { r.DownloadURL = v },
	"details":              func(r *indexer.ReleaseResult, v string) { r.InfoURL = v },
	"comments":             func(r *indexer.ReleaseResult, v string) { r.InfoURL = v },
	"info":                 func(r *indexer.ReleaseResult, v string) { r.InfoURL = v },
	"size":                 func(r *indexer.ReleaseResult, v string) { r.Size = parseSizeValue(v) },
	"date":                 func(r *indexer.ReleaseResult, v string) { r.PublishDate = parseDateField(v) },
	"publishdate":          func(r *indexer.ReleaseResult, v string) { r.PublishDate = parseDateField(v) },
	"publish_date":         func(r *indexer.ReleaseResult, v string) { r.PublishDate = parseDateField(v) },
	"seeders":              func(r *indexer.ReleaseResult, v string) { r.Seeders = parseIntValue(v) },
	"leechers":             func(r *indexer.ReleaseResult, v string) { r.Leechers = parseIntValue(v) },
	"peers":                func(r *indexer.ReleaseResult, v string) { r.Leechers = parseIntValue(v) },
	"grabs":                func(r *indexer.ReleaseResult, v string) { r.Grabs = parseIntValue(v) },
	"snatched":             func(r *indexer.ReleaseResult, v string) { r.Grabs = parseIntValue(v) },
	"infohash":             func(r *indexer.ReleaseResult, v string) { r.InfoHash = strings.ToLower(v) },
	"magnet":               func(r *indexer.ReleaseResult, v string) { r.MagnetURL = v },
	"magneturl":            func(r *indexer.ReleaseResult, v string) { r.MagnetURL = v },
	"magnet_url":           func(r *indexer.ReleaseResult, v string) { r.MagnetURL = v },
	"imdb":                 func(r *indexer.ReleaseResult, v string) { r.ImdbID = normalizeIMDBID(v) },
	"imdbid":               func(r *indexer.ReleaseResult, v string) { r.ImdbID = normalizeIMDBID(v) },
	"tmdb":                 func(r *indexer.ReleaseResult, v string) { r.TmdbID = parseIntValue(v) },
	"tmdbid":               func(r *indexer.ReleaseResult, v string) { r.TmdbID = parseIntValue(v) },
	"tvdb":                 func(r *indexer.ReleaseResult, v string) { r.TvdbID = parseIntValue(v) },
	"tvdbid":               func(r *indexer.ReleaseResult, v string) { r.TvdbID = parseIntValue(v) },
	"downloadvolumefactor": func(r *indexer.ReleaseResult, v string) { r.DownloadVolumeFactor = parseFloatValue(v) },
	"uploadvolumefactor":   func(r *indexer.ReleaseResult, v string) { r.UploadVolumeFactor = parseFloatValue(v) },
	"minimumratio":         func(r *indexer.ReleaseResult, v string) { r.MinimumRatio = parseFloatValue(v) },
	"minimumseedtime":      func(r *indexer.ReleaseResult, v string) { r.MinimumSeedTime = parseInt64Value(v) },
	"guid":                 func(r *indexer.ReleaseResult, v string) { r.GUID = v },
	"poster":               func(r *indexer.ReleaseResult, v string) { r.Poster = v },
	"group":                func(r *indexer.ReleaseResult, v string) { r.Group = v },
	"retention":            func(r *indexer.ReleaseResult, v string) { r.Retention = parseIntValue(v) },
	"streamprovider":       func(r *indexer.ReleaseResult, v string) { r.StreamProvider = v },
	"streamquality":        func(r *indexer.ReleaseResult, v string) { r.StreamQuality = v },
}

func (p *ResponseParser) mapFieldToRelease(release *indexer.ReleaseResult, fieldName, value string) {
	name := strings.ToLower(fieldName)
	if mapper, ok := fieldMappers[name]; ok {
		mapper(release, value)
		return
	}
	switch name {
	case "category", "cat":
		release.Categories = p.mapResultCategory(value, release.Categories)
	case "freeleech":
		if isTruthy(value) {
			release.DownloadVolumeFactor = 0
		}
	}
}

// mapResultCategory converts an indexer-native category value into Newznab
// category IDs via the definition mappings. A bare numeric Newznab ID
// passes through.
func (p *ResponseParser) mapResultCategory(value string, existing []int) []int {
	value = strings.TrimSpace(value)
	if value == "" {
		return existing
	}
	for _, mapping := range p.def.Caps.CategoryMappings {
		if mapping.ID == value || strings.EqualFold(mapping.Desc, value) {
			if id := indexer.CategoryByName(mapping.Cat); id > 0 {
				return appendUniqueCategory(existing, id)
			}
		}
	}
	if id, err := strconv.Atoi(value); err == nil && indexer.CategoryName(id) != "" {
		return appendUniqueCategory(existing, id)
	}
	if id := indexer.CategoryByName(value); id > 0 {
		return appendUniqueCategory(existing, id)
	}
	return existing
}

func appendUniqueCategory(cats []int, id int) []int {
	for _, c := range cats {
		if c == id {
			return cats
		}
	}
	return append(cats, id)
}

// finalizeRelease applies defaults: sticky dates, URL resolution and the
// GUID fallback chain (guid, infohash, download URL, synthesized).
func (p *ResponseParser) finalizeRelease(release *indexer.ReleaseResult, localCtx *TemplateContext, stickyDate time.Time) {
	if release.PublishDate.IsZero() && !stickyDate.IsZero() {
		release.PublishDate = stickyDate
	}

	sitelink := localCtx.Config["sitelink"]
	release.DownloadURL = resolveResultURL(release.DownloadURL, sitelink)
	release.InfoURL = resolveResultURL(release.InfoURL, sitelink)

	if release.GUID == "" {
		switch {
		case release.InfoHash != "":
			release.GUID = release.InfoHash
		case release.DownloadURL != "":
			release.GUID = release.DownloadURL
		default:
			// Deterministic so re-runs of the same search dedupe
			seed := fmt.Sprintf("%s-%d", sanitizeGUIDTitle(release.Title), release.PublishDate.Unix())
			release.GUID = fmt.Sprintf("%d-%s", p.indexerID, uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)))
		}
	}

	if len(release.Categories) == 0 {
		release.Categories = p.defaultCategories()
	}
}

func (p *ResponseParser) defaultCategories() []int {
	var cats []int
	for _, mapping := range p.def.Caps.CategoryMappings {
		if mapping.Default {
			if id := indexer.CategoryByName(mapping.Cat); id > 0 {
				cats = appendUniqueCategory(cats, id)
			}
		}
	}
	return cats
}

var guidTitleRe = strings.NewReplacer(" ", "-", "/", "-", "?", "", "&", "", "#", "")

func sanitizeGUIDTitle(title string) string {
	return guidTitleRe.Replace(strings.ToLower(strings.TrimSpace(title)))
}

// resolveResultURL resolves a possibly relative URL against the site link.
// Magnet links and absolute URLs pass through.
func resolveResultURL(urlStr, sitelink string) string {
	if urlStr == "" {
		return ""
	}
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") ||
		strings.HasPrefix(urlStr, "magnet:") || strings.HasPrefix(urlStr, "stream://") {
		return urlStr
	}
	base := strings.TrimSuffix(sitelink, "/")
	if strings.HasPrefix(urlStr, "/") {
		return base + urlStr
	}
	return base + "/" + urlStr
}

func normalizeIMDBID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" {
		return ""
	}
	if !strings.HasPrefix(v, "tt") {
		return "tt" + v
	}
	return v
}

func isTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v != "" && v != "0" && v != "false" && v != "no"
}

// Value coercion helpers. Sizes that are pure digit strings are byte
// counts; anything else goes through the unit-aware size filter.

func parseSizeValue(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	result, _ := filterSize(s, nil)
	n, _ := strconv.ParseInt(result, 10, 64)
	return n
}

func parseDateField(s string) time.Time {
	t, _ := parseFlexibleDate(s)
	return t
}

func parseIntValue(s string) int {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64Value(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloatValue(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
