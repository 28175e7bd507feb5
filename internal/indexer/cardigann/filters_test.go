package cardigann

import (
	"testing"
)

func TestApplyFilters(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		filters []Filter
		want    string
	}{
		{
			name:  "no filters",
			value: "hello",
			want:  "hello",
		},
		{
			name:  "single replace filter",
			value: "hello world",
			filters: []Filter{
				{Name: "replace", Args: []string{"world", "there"}},
			},
			want: "hello there",
		},
		{
			name:  "chained filters",
			value: "  HELLO WORLD  ",
			filters: []Filter{
				{Name: "trim"},
				{Name: "tolower"},
			},
			want: "hello world",
		},
		{
			name:  "prepend and append",
			value: "world",
			filters: []Filter{
				{Name: "prepend", Args: []string{"hello "}},
				{Name: "append", Args: []string{"!"}},
			},
			want: "hello world!",
		},
		{
			name:  "unknown filter is skipped",
			value: "test",
			filters: []Filter{
				{Name: "unknownfilter"},
				{Name: "toupper"},
			},
			want: "TEST",
		},
		{
			name:  "scalar arg",
			value: "a.b.c",
			filters: []Filter{
				{Name: "split", Args: []interface{}{".", 1}},
			},
			want: "b",
		},
		{
			name:  "split negative index",
			value: "a.b.c",
			filters: []Filter{
				{Name: "split", Args: []string{".", "-1"}},
			},
			want: "c",
		},
		{
			name:  "re_replace",
			value: "Movie.Name.2023",
			filters: []Filter{
				{Name: "re_replace", Args: []string{`\.`, " "}},
			},
			want: "Movie Name 2023",
		},
		{
			name:  "invalid regex leaves value unchanged",
			value: "unchanged",
			filters: []Filter{
				{Name: "re_replace", Args: []string{"([", "x"}},
			},
			want: "unchanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyFilters(tt.value, tt.filters); got != tt.want {
				t.Errorf("ApplyFilters() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterRegexp(t *testing.T) {
	tests := []struct {
		name  string
		value string
		arg   string
		want  string
	}{
		{"first capture group", "S03E07", `S(\d+)E\d+`, "03"},
		{"full match without group", "S03E07", `S\d+E\d+`, "S03E07"},
		{"no match yields empty", "no episode here", `S(\d+)E\d+`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyFilters(tt.value, []Filter{{Name: "regexp", Args: []string{tt.arg}}})
			if got != tt.want {
				t.Errorf("regexp(%q, %q) = %q, want %q", tt.value, tt.arg, got, tt.want)
			}
		})
	}
}

func TestFilterParseSize(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"1.5 GB", "1610612736"},
		{"1.5GB", "1610612736"},
		{"1.5 GiB", "1610612736"},
		{"700 MB", "734003200"},
		{"2 KB", "2048"},
		{"1,024 MB", "1073741824"},
		{"512", "512"},
		{"free", "0"},
		{"", "0"},
	}

	for _, tt := range tests {
		got := ApplyFilters(tt.value, []Filter{{Name: "parsesize"}})
		if got != tt.want {
			t.Errorf("parsesize(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestFilterHTMLEncodeDecodeRoundTrip(t *testing.T) {
	original := `Tom & Jerry <Special> "Edition"`

	encoded := ApplyFilters(original, []Filter{{Name: "htmlencode"}})
	if encoded == original {
		t.Fatal("htmlencode did not change the value")
	}
	decoded := ApplyFilters(encoded, []Filter{{Name: "htmldecode"}})
	if decoded != original {
		t.Errorf("round trip = %q, want %q", decoded, original)
	}
}

func TestFilterPredicates(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		filter Filter
		want   string
	}{
		{"contains hit", "1080p BluRay", Filter{Name: "contains", Args: []string{"1080p"}}, "1080p BluRay"},
		{"contains miss", "720p WEB", Filter{Name: "contains", Args: []string{"1080p"}}, ""},
		{"notcontains hit", "720p WEB", Filter{Name: "notcontains", Args: []string{"1080p"}}, "720p WEB"},
		{"startswith", "magnet:?xt=abc", Filter{Name: "startswith", Args: []string{"magnet:"}}, "magnet:?xt=abc"},
		{"endswith miss", "file.nzb", Filter{Name: "endswith", Args: []string{".torrent"}}, ""},
		{"validate allowed", "yes", Filter{Name: "validate", Args: []string{"yes|no"}}, "yes"},
		{"validate rejected", "maybe", Filter{Name: "validate", Args: []string{"yes|no"}}, ""},
		{"ifthenelse true", "VIP", Filter{Name: "ifthenelse", Args: []string{"VIP", "0", "1"}}, "0"},
		{"ifthenelse false", "Standard", Filter{Name: "ifthenelse", Args: []string{"VIP", "0", "1"}}, "1"},
		{"andmatch all", "1080p BluRay x265", Filter{Name: "andmatch", Args: []string{"1080p", "x265"}}, "1080p BluRay x265"},
		{"andmatch partial", "1080p BluRay", Filter{Name: "andmatch", Args: []string{"1080p", "x265"}}, ""},
		{"ormatch", "720p WEB", Filter{Name: "ormatch", Args: []string{"1080p", "720p"}}, "720p WEB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyFilters(tt.value, []Filter{tt.filter}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterNumeric(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		filter Filter
		want   string
	}{
		{"multiply", "2.5", Filter{Name: "multiply", Args: []string{"4"}}, "10"},
		{"divide", "10", Filter{Name: "divide", Args: []string{"4"}}, "2.5"},
		{"parseint strips noise", "1,234 seeders", Filter{Name: "parseint"}, "1234"},
		{"parsefloat", "size: 1.5x", Filter{Name: "parsefloat"}, "1.5"},
		{"non-numeric multiply unchanged", "abc", Filter{Name: "multiply", Args: []string{"2"}}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyFilters(tt.value, []Filter{tt.filter}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterEncoding(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		filter Filter
		want   string
	}{
		{"urlencode", "a b&c", Filter{Name: "urlencode"}, "a+b%26c"},
		{"urldecode", "a+b%26c", Filter{Name: "urldecode"}, "a b&c"},
		{"base64encode", "hello", Filter{Name: "base64encode"}, "aGVsbG8="},
		{"base64decode", "aGVsbG8=", Filter{Name: "base64decode"}, "hello"},
		{"base64decode garbage unchanged", "not base64!!!", Filter{Name: "base64decode"}, "not base64!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyFilters(tt.value, []Filter{tt.filter}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterDiacritics(t *testing.T) {
	got := ApplyFilters("Amélie à Paris", []Filter{{Name: "diacritics", Args: []string{"replace"}}})
	if got != "Amelie a Paris" {
		t.Errorf("diacritics = %q, want %q", got, "Amelie a Paris")
	}
}

func TestFilterJSONPath(t *testing.T) {
	doc := `{"result":{"title":"Show","tags":["hd","x265"]}}`

	got := ApplyFilters(doc, []Filter{{Name: "jsonpath", Args: []string{"result.title"}}})
	if got != "Show" {
		t.Errorf("jsonpath = %q, want %q", got, "Show")
	}

	joined := ApplyFilters(doc, []Filter{{Name: "jsonjoinarray", Args: []string{"result.tags", ", "}}})
	if joined != "hd, x265" {
		t.Errorf("jsonjoinarray = %q, want %q", joined, "hd, x265")
	}
}

func TestFilterStripTags(t *testing.T) {
	got := ApplyFilters(`<b>Bold</b> and <a href="#">link</a>`, []Filter{{Name: "striptags"}})
	if got != "Bold and link" {
		t.Errorf("striptags = %q", got)
	}
}

func TestFilterSubstringAndPad(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		filter Filter
		want   string
	}{
		{"substring", "abcdef", Filter{Name: "substring", Args: []string{"1", "4"}}, "bcd"},
		{"first", "abcdef", Filter{Name: "first", Args: []string{"3"}}, "abc"},
		{"last", "abcdef", Filter{Name: "last", Args: []string{"2"}}, "ef"},
		{"padleft", "7", Filter{Name: "padleft", Args: []string{"3", "0"}}, "007"},
		{"padright", "7", Filter{Name: "padright", Args: []string{"3", "0"}}, "700"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyFilters(tt.value, []Filter{tt.filter}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterDefaultAndCoalesce(t *testing.T) {
	if got := ApplyFilters("", []Filter{{Name: "default", Args: []string{"fallback"}}}); got != "fallback" {
		t.Errorf("default on empty = %q", got)
	}
	if got := ApplyFilters("value", []Filter{{Name: "default", Args: []string{"fallback"}}}); got != "value" {
		t.Errorf("default on non-empty = %q", got)
	}
	if got := ApplyFilters("", []Filter{{Name: "coalesce", Args: []string{"", "second"}}}); got != "second" {
		t.Errorf("coalesce = %q", got)
	}
}

func TestResolveURLFilterViaContext(t *testing.T) {
	engine := NewTemplateEngine()
	engine.SetSiteLink("https://tracker.example.com")
	ctx := engine.Context()

	got := ApplyFiltersWithContext("/download/123", []Filter{{Name: "absoluteurl"}}, engine, ctx)
	if got != "https://tracker.example.com/download/123" {
		t.Errorf("absoluteurl = %q", got)
	}
}

func TestURLFiltersWithoutContext(t *testing.T) {
	// The context-free path (selector inputs during login) still runs the
	// URL filters; an explicit base argument replaces the site link.
	got := ApplyFilters("/captcha.php", []Filter{{Name: "absoluteurl", Args: "https://tracker.example.com"}})
	if got != "https://tracker.example.com/captcha.php" {
		t.Errorf("absoluteurl with explicit base = %q", got)
	}
	if got := ApplyFilters("/captcha.php", []Filter{{Name: "absoluteurl"}}); got != "/captcha.php" {
		t.Errorf("absoluteurl with no base = %q, want value unchanged", got)
	}
	if got := ApplyFilters("https://tracker.example.com/a/b?x=1", []Filter{{Name: "baseurl"}}); got != "https://tracker.example.com" {
		t.Errorf("baseurl = %q", got)
	}
}

func TestRegisterContextFilter(t *testing.T) {
	RegisterContextFilter("absoluteurl", func(value string, args []string, ctx *TemplateContext) (string, error) {
		return "shadowed:" + value, nil
	})
	defer RegisterContextFilter("absoluteurl", filterAbsoluteURL)

	if got := ApplyFilters("/x", []Filter{{Name: "absoluteurl"}}); got != "shadowed:/x" {
		t.Errorf("shadowed absoluteurl = %q", got)
	}
}

func TestFilterArgsAreTemplateEvaluated(t *testing.T) {
	engine := NewTemplateEngine()
	engine.SetConfig(map[string]string{"sep": "-"})
	ctx := engine.Context()

	got := ApplyFiltersWithContext("a-b", []Filter{
		{Name: "split", Args: []string{"{{ .Config.sep }}", "1"}},
	}, engine, ctx)
	if got != "b" {
		t.Errorf("templated arg split = %q, want %q", got, "b")
	}
}

func TestRegisterFilter(t *testing.T) {
	RegisterFilter("testreverse", func(value string, args []string) (string, error) {
		runes := []rune(value)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})

	if got := ApplyFilters("abc", []Filter{{Name: "testreverse"}}); got != "cba" {
		t.Errorf("custom filter = %q, want %q", got, "cba")
	}
}
