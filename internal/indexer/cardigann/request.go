package cardigann

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
)

// SearchRequest is one HTTP request produced by the request builder. Body
// is non-nil only for POST requests.
type SearchRequest struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           url.Values
	Response       *ResponseConfig
	FollowRedirect bool
}

// RequestBuilder turns search criteria into the HTTP requests a
// definition's search paths describe.
type RequestBuilder struct {
	def    *Definition
	engine *TemplateEngine
	logger zerolog.Logger
}

// NewRequestBuilder creates a request builder bound to a definition and a
// shared template engine. The engine's sitelink must already be set to the
// base URL in use.
func NewRequestBuilder(def *Definition, engine *TemplateEngine, logger zerolog.Logger) *RequestBuilder {
	return &RequestBuilder{
		def:    def,
		engine: engine,
		logger: logger.With().Str("component", "request").Str("indexer", def.ID).Logger(),
	}
}

// BuildSearchRequests produces one request per search path whose category
// filter intersects the criteria's categories. Zero matching paths yields
// an empty slice, which the caller treats as "cannot search" rather than
// an error.
func (b *RequestBuilder) BuildSearchRequests(criteria *indexer.SearchCriteria, settings map[string]string) ([]SearchRequest, error) {
	merged := b.def.SettingDefaults(settings)
	b.engine.SetConfig(merged)

	indexerCats := b.mapCategoriesToIndexer(criteria.Categories)
	b.engine.SetCategories(indexerCats)

	query := buildQueryContext(criteria)
	b.engine.SetQuery(query)

	keywords := b.resolveKeywords(criteria, query)
	query.Keywords = keywords
	b.engine.SetQuery(query)

	var requests []SearchRequest
	for i := range b.def.Search.Paths {
		path := &b.def.Search.Paths[i]
		if !pathMatchesCategories(path, indexerCats) {
			continue
		}
		req, err := b.buildPathRequest(path)
		if err != nil {
			b.logger.Warn().Err(err).Str("path", path.Path).Msg("Failed to build search request")
			continue
		}
		requests = append(requests, *req)
	}

	return requests, nil
}

// buildQueryContext converts search criteria into template query scope.
func buildQueryContext(criteria *indexer.SearchCriteria) QueryContext {
	q := QueryContext{
		Q:        criteria.Query,
		Keywords: criteria.Query,
		Year:     criteria.Year,
		Season:   criteria.Season,
		Ep:       criteria.Episode,
		Episode:  criteria.Episode,
		TMDBID:   criteria.TmdbID,
		TVDBID:   criteria.TvdbID,
		Album:    criteria.Album,
		Artist:   criteria.Artist,
		Author:   criteria.Author,
		Title:    criteria.Title,
		Limit:    criteria.Limit,
		Offset:   criteria.Offset,
	}

	switch criteria.Type {
	case indexer.SearchTypeMovie:
		q.Movie = criteria.Query
	case indexer.SearchTypeTV:
		q.Series = criteria.Query
	}

	if criteria.ImdbID != "" {
		if strings.HasPrefix(criteria.ImdbID, "tt") {
			q.IMDBID = criteria.ImdbID
			q.IMDBIDShort = strings.TrimPrefix(criteria.ImdbID, "tt")
		} else {
			q.IMDBIDShort = criteria.ImdbID
			q.IMDBID = "tt" + criteria.ImdbID
		}
	}

	return q
}

// resolveKeywords applies the definition's keyword filters. ID-driven
// movie searches drop free-text keywords so the site matches on the
// identifier alone.
func (b *RequestBuilder) resolveKeywords(criteria *indexer.SearchCriteria, query QueryContext) string {
	if criteria.Type == indexer.SearchTypeMovie && (criteria.TmdbID > 0 || criteria.ImdbID != "") {
		return ""
	}
	if len(b.def.Search.KeywordsFilters) > 0 {
		return ApplyFiltersWithContext(criteria.Query, b.def.Search.KeywordsFilters, b.engine, b.engine.Context())
	}
	return criteria.Query
}

// mapCategoriesToIndexer converts Newznab category IDs to indexer-native
// IDs via the definition's category mappings. A parent category fans out
// to every mapped subcategory.
func (b *RequestBuilder) mapCategoriesToIndexer(newznabCats []int) []string {
	if len(newznabCats) == 0 {
		return nil
	}

	catNameToID := make(map[string]string)
	for _, mapping := range b.def.Caps.CategoryMappings {
		catNameToID[mapping.Cat] = mapping.ID
	}

	var result []string
	seen := make(map[string]bool)

	for _, nzCat := range newznabCats {
		catName := indexer.CategoryName(nzCat)
		if catName == "" {
			continue
		}

		if id, ok := catNameToID[catName]; ok {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
			continue
		}

		// Parent category: collect every subcategory under it
		for mappedName, id := range catNameToID {
			if strings.HasPrefix(mappedName, catName+"/") && !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}

	return result
}

// pathMatchesCategories checks if a search path applies to the requested
// indexer-native categories.
func pathMatchesCategories(path *SearchPath, categories []string) bool {
	if len(path.Categories) == 0 {
		return true
	}
	if len(categories) == 0 {
		return true
	}
	for _, queryCat := range categories {
		for _, pathCat := range path.Categories {
			if queryCat == pathCat {
				return true
			}
		}
	}
	return false
}

// buildPathRequest expands one search path into a concrete request.
func (b *RequestBuilder) buildPathRequest(path *SearchPath) (*SearchRequest, error) {
	ctx := b.engine.Context()

	method := "GET"
	if path.Method != "" {
		method = strings.ToUpper(path.Method)
	}

	pathStr, err := b.engine.Evaluate(path.Path, ctx)
	if err != nil {
		return nil, err
	}

	sitelink := strings.TrimSuffix(ctx.Config["sitelink"], "/")
	pathStr = strings.TrimPrefix(strings.TrimSpace(pathStr), "/")

	target := pathStr
	if !strings.HasPrefix(pathStr, "http://") && !strings.HasPrefix(pathStr, "https://") {
		target = sitelink + "/" + pathStr
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	inputs := b.combineInputs(path)

	req := &SearchRequest{
		Method:         method,
		Headers:        b.buildHeaders(),
		Response:       path.Response,
		FollowRedirect: path.FollowRedirect,
	}

	if method == "POST" {
		body := url.Values{}
		for key, tmpl := range inputs {
			val, err := b.engine.Evaluate(tmpl, ctx)
			if err != nil {
				continue
			}
			if key == "$raw" {
				continue
			}
			body.Set(key, val)
		}
		req.Body = body
		req.URL = u.String()
		return req, nil
	}

	q := u.Query()
	var rawQuery string
	for key, tmpl := range inputs {
		val, err := b.engine.Evaluate(tmpl, ctx)
		if err != nil {
			continue
		}
		// $raw carries a pre-encoded query fragment, e.g. repeated
		// cat[]= parameters from a range loop.
		if key == "$raw" {
			rawQuery = val
			continue
		}
		if val == "" || val == "0" {
			continue
		}
		q.Set(key, val)
	}

	u.RawQuery = q.Encode()
	if rawQuery != "" {
		rawQuery = strings.Trim(rawQuery, "&")
		if u.RawQuery != "" {
			u.RawQuery += "&"
		}
		u.RawQuery += rawQuery
	}

	req.URL = u.String()
	return req, nil
}

func (b *RequestBuilder) combineInputs(path *SearchPath) map[string]string {
	allInputs := make(map[string]string)
	for k, v := range b.def.Search.Inputs {
		allInputs[k] = v
	}
	for k, v := range path.Inputs {
		allInputs[k] = v
	}
	return allInputs
}

func (b *RequestBuilder) buildHeaders() map[string]string {
	if len(b.def.Search.Headers) == 0 {
		return nil
	}
	ctx := b.engine.Context()
	headers := make(map[string]string, len(b.def.Search.Headers))
	for key, tmpl := range b.def.Search.Headers {
		val, err := b.engine.Evaluate(string(tmpl), ctx)
		if err != nil {
			b.logger.Warn().Err(err).Str("header", key).Msg("Failed to evaluate header template")
			continue
		}
		headers[key] = val
	}
	return headers
}

// ResultLimit clamps the requested limit to a sane positive bound.
func ResultLimit(criteria *indexer.SearchCriteria) int {
	if criteria.Limit > 0 && criteria.Limit <= 1000 {
		return criteria.Limit
	}
	return 100
}
