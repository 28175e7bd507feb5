package cardigann

import (
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
)

func requestTestDefinition() *Definition {
	return &Definition{
		ID:   "reqtracker",
		Name: "Request Tracker",
		Caps: Capabilities{
			CategoryMappings: []CategoryMapping{
				{ID: "41", Cat: "Movies/HD"},
				{ID: "44", Cat: "Movies/UHD"},
				{ID: "52", Cat: "TV/HD"},
			},
			Modes: map[string][]string{
				"search":       {"q"},
				"movie-search": {"q", "imdbid"},
			},
		},
		Search: SearchBlock{
			Paths: []SearchPath{
				{Path: "/torrents/search"},
			},
			Inputs: map[string]string{
				"search": "{{ .Keywords }}",
				"cats":   "{{ join .Categories \",\" }}",
			},
		},
	}
}

func newTestBuilder(def *Definition) (*RequestBuilder, *TemplateEngine) {
	engine := NewTemplateEngine()
	engine.SetSiteLink("https://tracker.example.com")
	return NewRequestBuilder(def, engine, zerolog.Nop()), engine
}

func TestBuildSearchRequests(t *testing.T) {
	builder, _ := newTestBuilder(requestTestDefinition())

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{
		Type:       indexer.SearchTypeMovie,
		Query:      "inception",
		Categories: []int{indexer.CategoryMoviesHD},
	}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}

	req := reqs[0]
	if req.Method != "GET" {
		t.Errorf("method = %q", req.Method)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("bad URL %q: %v", req.URL, err)
	}
	if u.Host != "tracker.example.com" || u.Path != "/torrents/search" {
		t.Errorf("URL = %q", req.URL)
	}
	q := u.Query()
	if q.Get("search") != "inception" {
		t.Errorf("search param = %q", q.Get("search"))
	}
	if q.Get("cats") != "41" {
		t.Errorf("cats param = %q", q.Get("cats"))
	}
}

func TestBuildSkipsEmptyAndZeroInputs(t *testing.T) {
	def := requestTestDefinition()
	def.Search.Inputs = map[string]string{
		"search": "{{ .Keywords }}",
		"imdb":   "{{ .IMDBID }}",
		"tmdb":   "{{ .TMDBID }}",
	}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{
		Type:  indexer.SearchTypeTV,
		Query: "dark",
	}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	u, _ := url.Parse(reqs[0].URL)
	q := u.Query()
	if q.Has("imdb") {
		t.Errorf("empty imdb param included: %q", reqs[0].URL)
	}
	if q.Has("tmdb") {
		t.Errorf("zero tmdb param included: %q", reqs[0].URL)
	}
	if q.Get("search") != "dark" {
		t.Errorf("search = %q", q.Get("search"))
	}
}

func TestBuildRawQueryInput(t *testing.T) {
	def := requestTestDefinition()
	def.Search.Inputs = map[string]string{
		"search": "{{ .Keywords }}",
		"$raw":   "cat[]=41&cat[]=44&",
	}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{Query: "x"}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	rawQuery := reqs[0].URL[strings.Index(reqs[0].URL, "?")+1:]
	if !strings.Contains(rawQuery, "cat[]=41&cat[]=44") {
		t.Errorf("raw fragment not appended verbatim: %q", rawQuery)
	}
	if strings.HasSuffix(rawQuery, "&") {
		t.Errorf("trailing ampersand not trimmed: %q", rawQuery)
	}
}

func TestBuildPOSTRequest(t *testing.T) {
	def := requestTestDefinition()
	def.Search.Paths = []SearchPath{{Path: "/api/search", Method: "post"}}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{Query: "matrix"}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	req := reqs[0]
	if req.Method != "POST" {
		t.Errorf("method = %q", req.Method)
	}
	if strings.Contains(req.URL, "search=") {
		t.Errorf("POST leaked inputs into query string: %q", req.URL)
	}
	if req.Body == nil || req.Body.Get("search") != "matrix" {
		t.Errorf("body = %v", req.Body)
	}
}

func TestBuildPathCategoryFilter(t *testing.T) {
	def := requestTestDefinition()
	def.Search.Paths = []SearchPath{
		{Path: "/movies", Categories: []string{"41", "44"}},
		{Path: "/tv", Categories: []string{"52"}},
		{Path: "/all"},
	}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{
		Query:      "x",
		Categories: []int{indexer.CategoryMoviesHD},
	}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want movie path and unrestricted path", len(reqs))
	}
	for _, req := range reqs {
		if strings.Contains(req.URL, "/tv") {
			t.Errorf("tv path built for movie-only search: %q", req.URL)
		}
	}
}

func TestMapCategoriesToIndexer(t *testing.T) {
	builder, _ := newTestBuilder(requestTestDefinition())

	tests := []struct {
		name string
		cats []int
		want []string
	}{
		{"empty", nil, nil},
		{"direct mapping", []int{indexer.CategoryMoviesHD}, []string{"41"}},
		{"parent fans out", []int{indexer.CategoryMovies}, []string{"41", "44"}},
		{"unmapped dropped", []int{indexer.CategoryAudio}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := builder.mapCategoriesToIndexer(tt.cats)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			gotSet := make(map[string]bool, len(got))
			for _, id := range got {
				gotSet[id] = true
			}
			for _, id := range tt.want {
				if !gotSet[id] {
					t.Errorf("missing %q in %v", id, got)
				}
			}
		})
	}
}

func TestBuildQueryContextIMDB(t *testing.T) {
	tests := []struct {
		name      string
		imdbID    string
		wantFull  string
		wantShort string
	}{
		{"with prefix", "tt0137523", "tt0137523", "0137523"},
		{"without prefix", "0137523", "tt0137523", "0137523"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := buildQueryContext(&indexer.SearchCriteria{ImdbID: tt.imdbID})
			if q.IMDBID != tt.wantFull {
				t.Errorf("IMDBID = %q, want %q", q.IMDBID, tt.wantFull)
			}
			if q.IMDBIDShort != tt.wantShort {
				t.Errorf("IMDBIDShort = %q, want %q", q.IMDBIDShort, tt.wantShort)
			}
		})
	}
}

func TestIDSearchDropsKeywords(t *testing.T) {
	def := requestTestDefinition()
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{
		Type:   indexer.SearchTypeMovie,
		Query:  "Fight Club",
		ImdbID: "tt0137523",
	}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	u, _ := url.Parse(reqs[0].URL)
	if u.Query().Has("search") {
		t.Errorf("keywords kept for ID-driven movie search: %q", reqs[0].URL)
	}
}

func TestKeywordsFilters(t *testing.T) {
	def := requestTestDefinition()
	def.Search.KeywordsFilters = []Filter{
		{Name: "re_replace", Args: []interface{}{`[^a-zA-Z0-9]+`, " "}},
		{Name: "trim"},
	}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{Query: "the.movie: 2023!"}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	u, _ := url.Parse(reqs[0].URL)
	if got := u.Query().Get("search"); got != "the movie 2023" {
		t.Errorf("filtered keywords = %q", got)
	}
}

func TestSearchHeadersEvaluated(t *testing.T) {
	def := requestTestDefinition()
	def.Search.Headers = map[string]StringOrArray{
		"Referer":      "{{ .Config.sitelink }}",
		"X-Search-For": "{{ .Keywords }}",
	}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{Query: "x"}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	h := reqs[0].Headers
	if h["Referer"] != "https://tracker.example.com/" {
		t.Errorf("Referer = %q", h["Referer"])
	}
	if h["X-Search-For"] != "x" {
		t.Errorf("X-Search-For = %q", h["X-Search-For"])
	}
}

func TestSettingDefaultsMergedIntoConfig(t *testing.T) {
	def := requestTestDefinition()
	def.Settings = []Setting{
		{Name: "sort", Type: "select", Default: "created"},
		{Name: "freeleech", Type: "checkbox"},
	}
	def.Search.Inputs = map[string]string{"sort": "{{ .Config.sort }}"}
	builder, _ := newTestBuilder(def)

	reqs, err := builder.BuildSearchRequests(&indexer.SearchCriteria{Query: "x"}, nil)
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	u, _ := url.Parse(reqs[0].URL)
	if got := u.Query().Get("sort"); got != "created" {
		t.Errorf("default setting not applied: sort = %q", got)
	}

	reqs, err = builder.BuildSearchRequests(&indexer.SearchCriteria{Query: "x"},
		map[string]string{"sort": "seeders"})
	if err != nil {
		t.Fatalf("BuildSearchRequests: %v", err)
	}
	u, _ = url.Parse(reqs[0].URL)
	if got := u.Query().Get("sort"); got != "seeders" {
		t.Errorf("user setting not applied: sort = %q", got)
	}
}

func TestResultLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 100},
		{-5, 100},
		{50, 50},
		{1000, 1000},
		{5000, 100},
	}
	for _, tt := range tests {
		got := ResultLimit(&indexer.SearchCriteria{Limit: tt.limit})
		if got != tt.want {
			t.Errorf("ResultLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}
