package cardigann

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
	"github.com/keonramses/cinephage/internal/indexer/httpclient"
	"github.com/keonramses/cinephage/internal/indexer/torrentfile"
)

const maxDownloadRedirects = 5

// YamlIndexer runs one configured indexer instance from its YAML
// definition. It wires the template engine, request builder, response
// parser, auth manager and resilient HTTP client together behind the
// Indexer interface.
type YamlIndexer struct {
	def      *Definition
	cfg      *indexer.IndexerConfig
	settings map[string]string

	client  *httpclient.Client
	engine  *TemplateEngine
	builder *RequestBuilder
	parser  *ResponseParser
	auth    *AuthManager
	logger  zerolog.Logger
}

// Options carries the shared infrastructure a YamlIndexer plugs into.
// RateLimiter and Jars are process-wide registries; CookieStore and
// Browser may be nil.
type Options struct {
	Definition  *Definition
	Config      *indexer.IndexerConfig
	CookieStore CookieStore
	RateLimiter *httpclient.RateLimiter
	Jars        *httpclient.JarRegistry
	Browser     httpclient.BrowserFetcher
	Logger      zerolog.Logger
}

// NewYamlIndexer creates an indexer instance from a definition and its
// instance config.
func NewYamlIndexer(opts Options) (*YamlIndexer, error) {
	def := opts.Definition
	cfg := opts.Config
	if def == nil {
		return nil, fmt.Errorf("definition is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("indexer config is required")
	}

	urls := resolveURLs(def, cfg)
	if len(urls) == 0 {
		return nil, indexer.NewConfigError(cfg.Name, "definition declares no links and config has no base URL")
	}

	logger := opts.Logger.With().Str("indexer", def.ID).Int64("indexerId", cfg.ID).Logger()

	client, err := httpclient.New(httpclient.Options{
		IndexerID:   cfg.ID,
		IndexerName: cfg.Name,
		URLs:        urls,
		Encoding:    def.Encoding,
		RateLimiter: opts.RateLimiter,
		Jars:        opts.Jars,
		Browser:     opts.Browser,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	if def.RequestDelay > 0 && opts.RateLimiter != nil {
		opts.RateLimiter.SetIndexerInterval(cfg.ID, time.Duration(def.RequestDelay*float64(time.Second)))
	}

	settings := def.SettingDefaults(cfg.Settings)

	engine := NewTemplateEngine()
	engine.SetSiteLink(urls[0])
	engine.SetConfig(settings)

	idx := &YamlIndexer{
		def:      def,
		cfg:      cfg,
		settings: settings,
		client:   client,
		engine:   engine,
		builder:  NewRequestBuilder(def, engine, logger),
		parser:   NewResponseParser(def, engine, cfg.ID, displayName(def, cfg), logger),
		auth:     NewAuthManager(def, client, engine, settings, opts.CookieStore, cfg.ID, logger),
		logger:   logger,
	}
	return idx, nil
}

// resolveURLs returns the base URLs in failover order. A configured base
// URL takes precedence over the definition's primary link; the remaining
// definition links stay as mirrors.
func resolveURLs(def *Definition, cfg *indexer.IndexerConfig) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSuffix(strings.TrimSpace(u), "/")
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	add(cfg.BaseURL)
	for _, u := range cfg.AlternateURLs {
		add(u)
	}
	for _, u := range def.AllURLs() {
		add(u)
	}
	return urls
}

func displayName(def *Definition, cfg *indexer.IndexerConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return def.Name
}

// Name returns the configured display name.
func (y *YamlIndexer) Name() string {
	return displayName(y.def, y.cfg)
}

// Definition returns the underlying parsed definition.
func (y *YamlIndexer) Definition() *Definition {
	return y.def
}

// Capabilities converts the definition's caps block to the shared shape.
func (y *YamlIndexer) Capabilities() indexer.Capabilities {
	caps := indexer.Capabilities{
		SupportsSearch: y.def.SupportsMode("search"),
		SupportsTV:     y.def.SupportsMode("tv-search"),
		SupportsMovies: y.def.SupportsMode("movie-search"),
		SupportsMusic:  y.def.SupportsMode("music-search"),
		SupportsBooks:  y.def.SupportsMode("book-search"),
	}
	if y.def.Caps.Modes != nil {
		caps.SearchParams = y.def.Caps.Modes["search"]
		caps.TvSearchParams = y.def.Caps.Modes["tv-search"]
		caps.MovieSearchParams = y.def.Caps.Modes["movie-search"]
	}
	for _, m := range y.def.Caps.CategoryMappings {
		caps.Categories = append(caps.Categories, indexer.CategoryMapping{
			IndexerID:   m.ID,
			NewznabID:   indexer.CategoryByName(m.Cat),
			Name:        m.Cat,
			Description: m.Desc,
		})
	}
	return caps
}

// modeForSearchType maps a criteria type onto the definition's mode key.
func modeForSearchType(searchType string) string {
	switch searchType {
	case indexer.SearchTypeMovie:
		return "movie-search"
	case indexer.SearchTypeTV:
		return "tv-search"
	case indexer.SearchTypeMusic:
		return "music-search"
	case indexer.SearchTypeBook:
		return "book-search"
	default:
		return "search"
	}
}

// CanSearch reports whether the criteria fit this indexer's declared modes
// and categories without any network traffic.
func (y *YamlIndexer) CanSearch(criteria *indexer.SearchCriteria) bool {
	if criteria == nil {
		return false
	}
	mode := modeForSearchType(criteria.Type)
	if !y.def.SupportsMode(mode) {
		// Fall back to plain search when the specific mode is missing.
		if mode == "search" || !y.def.SupportsMode("search") {
			return false
		}
	}

	if len(criteria.Categories) == 0 || len(y.def.Caps.CategoryMappings) == 0 {
		return true
	}
	return len(y.builder.mapCategoriesToIndexer(criteria.Categories)) > 0
}

// Search executes the criteria against the site. Requests run sequentially;
// per-request and per-row failures accumulate as SearchError entries while
// surviving releases are still returned.
func (y *YamlIndexer) Search(ctx context.Context, criteria *indexer.SearchCriteria) (*indexer.SearchResults, error) {
	if !y.CanSearch(criteria) {
		return nil, indexer.NewConfigError(y.Name(),
			fmt.Sprintf("search type %q is not supported", criteria.Type))
	}

	if err := y.auth.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}

	enhanced := enhanceCriteria(criteria)
	requests, err := y.builder.BuildSearchRequests(enhanced, y.cfg.Settings)
	if err != nil {
		return nil, err
	}

	results := &indexer.SearchResults{}
	if len(requests) == 0 {
		y.logger.Debug().Msg("No search paths match the requested categories")
		return results, nil
	}

	reloggedIn := false
	for i := range requests {
		req := &requests[i]
		partial, err := y.executeSearchRequest(ctx, req, &reloggedIn)
		if err != nil {
			results.Errors = append(results.Errors, indexer.SearchError{
				Phase:   "request",
				Message: err.Error(),
			})
			continue
		}
		results.Releases = append(results.Releases, partial.Releases...)
		results.Errors = append(results.Errors, partial.Errors...)
	}

	if limit := ResultLimit(criteria); len(results.Releases) > limit {
		results.Releases = results.Releases[:limit]
	}

	y.logger.Debug().
		Int("releases", len(results.Releases)).
		Int("errors", len(results.Errors)).
		Msg("Search completed")

	return results, nil
}

// executeSearchRequest fetches and parses one search path. When the
// response turns out to be a login page the session is refreshed and the
// request retried, at most once per search call.
func (y *YamlIndexer) executeSearchRequest(ctx context.Context, req *SearchRequest, reloggedIn *bool) (*indexer.SearchResults, error) {
	resp, err := y.doSearchRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if !*reloggedIn && y.auth.NeedsLogin(resp.Body, resp.FinalURL) {
		*reloggedIn = true
		y.logger.Info().Msg("Session expired mid-search, re-authenticating")
		y.auth.Invalidate(ctx)
		if err := y.auth.EnsureLoggedIn(ctx); err != nil {
			return nil, err
		}
		resp, err = y.doSearchRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if req.Response != nil && req.Response.NoResultsMessage != "" &&
		strings.Contains(string(resp.Body), req.Response.NoResultsMessage) {
		return &indexer.SearchResults{}, nil
	}

	hint := ResponseType("")
	if req.Response != nil {
		hint = ResponseType(req.Response.Type)
	}
	return y.parser.Parse(resp.Body, hint), nil
}

func (y *YamlIndexer) doSearchRequest(ctx context.Context, req *SearchRequest) (*httpclient.Response, error) {
	resp, err := y.client.Do(ctx, &httpclient.Request{
		Method:     req.Method,
		URL:        req.URL,
		Headers:    req.Headers,
		Body:       req.Body,
		NoRedirect: !req.FollowRedirect,
	})
	if err != nil {
		return nil, err
	}

	// Definitions that disable redirects still expect the landing page.
	if !req.FollowRedirect && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Headers.Get("Location")
		if location != "" {
			return y.client.Get(ctx, y.resolveRedirect(resp.FinalURL, location))
		}
	}
	return resp, nil
}

// enhanceCriteria enriches the free-text query with season/episode or year
// so sites without structured search params still narrow their results.
func enhanceCriteria(criteria *indexer.SearchCriteria) *indexer.SearchCriteria {
	if criteria.Query == "" {
		return criteria
	}

	enhanced := *criteria
	switch criteria.Type {
	case indexer.SearchTypeTV:
		if criteria.Season > 0 {
			if criteria.Episode > 0 {
				enhanced.Query = fmt.Sprintf("%s S%02dE%02d", criteria.Query, criteria.Season, criteria.Episode)
			} else {
				enhanced.Query = fmt.Sprintf("%s S%02d", criteria.Query, criteria.Season)
			}
		}
	case indexer.SearchTypeMovie:
		if criteria.Year > 0 {
			enhanced.Query = fmt.Sprintf("%s %d", criteria.Query, criteria.Year)
		}
	}
	return &enhanced
}

// Test verifies reachability and, when the definition has a login block,
// that authentication works.
func (y *YamlIndexer) Test(ctx context.Context) error {
	if y.def.HasLogin() {
		return y.auth.EnsureLoggedIn(ctx)
	}

	resp, err := y.client.Get(ctx, y.client.BaseURL())
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return indexer.NewHTTPError(resp.StatusCode, y.Name())
	}
	return nil
}

// DownloadURL resolves the concrete URL to fetch for a release. Magnet
// links win over HTTP download URLs.
func (y *YamlIndexer) DownloadURL(release *indexer.ReleaseResult) (string, error) {
	if release == nil {
		return "", fmt.Errorf("release is required")
	}
	if release.MagnetURL != "" {
		return release.MagnetURL, nil
	}
	if release.DownloadURL != "" {
		return release.DownloadURL, nil
	}
	if release.InfoHash != "" {
		return "magnet:?xt=urn:btih:" + release.InfoHash, nil
	}
	return "", fmt.Errorf("release %q has no download URL, magnet URL or info hash", release.Title)
}

// DownloadTorrent fetches a release payload. Redirects are followed
// manually so a magnet Location can short-circuit, and the payload is
// validated as a torrent before being returned.
func (y *YamlIndexer) DownloadTorrent(ctx context.Context, rawURL string) (*indexer.DownloadResult, error) {
	if torrentfile.IsMagnetLink(rawURL) {
		return &indexer.DownloadResult{
			Success:   true,
			MagnetURL: rawURL,
			InfoHash:  torrentfile.InfoHashFromMagnet(rawURL),
		}, nil
	}

	if err := y.auth.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}

	if y.def.Download != nil && y.def.Download.Before != nil {
		if err := y.executePreDownload(ctx, y.def.Download.Before); err != nil {
			y.logger.Warn().Err(err).Msg("Pre-download request failed")
		}
	}

	current := rawURL
	for redirects := 0; redirects <= maxDownloadRedirects; redirects++ {
		resp, err := y.client.Do(ctx, &httpclient.Request{
			Method:     http.MethodGet,
			URL:        current,
			NoRedirect: true,
			Binary:     true,
		})
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Headers.Get("Location")
			if location == "" {
				return &indexer.DownloadResult{Error: "redirect without Location header"}, nil
			}
			if torrentfile.IsMagnetLink(location) {
				return &indexer.DownloadResult{
					Success:   true,
					MagnetURL: location,
					InfoHash:  torrentfile.InfoHashFromMagnet(location),
				}, nil
			}
			current = y.resolveRedirect(resp.FinalURL, location)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return &indexer.DownloadResult{
				Error: fmt.Sprintf("download returned status %d", resp.StatusCode),
			}, nil
		}

		if y.def.GetProtocol() != "torrent" {
			return &indexer.DownloadResult{Success: true, Data: resp.Body}, nil
		}

		tf, err := torrentfile.Parse(resp.Body)
		if err != nil {
			return &indexer.DownloadResult{
				Error: fmt.Sprintf("response is not a valid torrent: %v", err),
			}, nil
		}

		y.logger.Debug().Str("name", tf.Name).Int("bytes", len(resp.Body)).Msg("Download completed")
		return &indexer.DownloadResult{
			Success:  true,
			Data:     resp.Body,
			InfoHash: tf.InfoHash,
		}, nil
	}

	return &indexer.DownloadResult{
		Error: fmt.Sprintf("too many redirects (max %d)", maxDownloadRedirects),
	}, nil
}

// executePreDownload issues the definition's pre-download request, used by
// sites that require visiting a page before the download link activates.
func (y *YamlIndexer) executePreDownload(ctx context.Context, before *BeforeRequest) error {
	path := y.engine.Expand(before.Path)
	preURL := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		preURL = y.client.BaseURL() + "/" + strings.TrimPrefix(path, "/")
	}

	method := http.MethodGet
	if before.Method != "" {
		method = strings.ToUpper(before.Method)
	}

	var body url.Values
	if len(before.Inputs) > 0 {
		body = url.Values{}
		for key, tmpl := range before.Inputs {
			body.Set(key, y.engine.Expand(tmpl))
		}
		if method == http.MethodGet {
			sep := "?"
			if strings.Contains(preURL, "?") {
				sep = "&"
			}
			preURL += sep + body.Encode()
			body = nil
		}
	}

	headers := make(map[string]string)
	for key, val := range before.Headers {
		headers[key] = y.engine.Expand(string(val))
	}

	_, err := y.client.Do(ctx, &httpclient.Request{
		Method:  method,
		URL:     preURL,
		Headers: headers,
		Body:    body,
	})
	return err
}

func (y *YamlIndexer) resolveRedirect(baseURL, location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

// Protocol returns the download protocol declared by the definition.
func (y *YamlIndexer) Protocol() indexer.Protocol {
	return indexer.Protocol(y.def.GetProtocol())
}

// Privacy returns the definition's privacy classification.
func (y *YamlIndexer) Privacy() indexer.Privacy {
	return indexer.Privacy(y.def.GetPrivacy())
}

// Destroy releases the cookie jar and rate-limit registrations for this
// instance.
func (y *YamlIndexer) Destroy() {
	y.client.Destroy()
}

var _ indexer.Indexer = (*YamlIndexer)(nil)
