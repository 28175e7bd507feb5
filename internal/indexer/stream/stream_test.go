package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
)

type fakeCatalog struct {
	movies   []MovieRow
	episodes []EpisodeRow
	err      error
}

func (f *fakeCatalog) SearchMovies(ctx context.Context, criteria *indexer.SearchCriteria) ([]MovieRow, error) {
	return f.movies, f.err
}

func (f *fakeCatalog) SearchEpisodes(ctx context.Context, criteria *indexer.SearchCriteria) ([]EpisodeRow, error) {
	return f.episodes, f.err
}

func TestURLShapes(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{MovieURL(550), "stream://movie/550"},
		{EpisodeURL(1399, 3, 7), "stream://tv/1399/3/7"},
		{SeasonURL(1399, 3), "stream://tv/1399/3"},
		{SeriesURL(1399), "stream://tv/1399/all"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestGUIDStability(t *testing.T) {
	a := guidFor("stream://movie/550")
	b := guidFor("stream://movie/550")
	if a != b {
		t.Errorf("GUIDs differ for the same URL: %q vs %q", a, b)
	}
	if a == guidFor("stream://movie/551") {
		t.Error("different URLs produced the same GUID")
	}
}

func TestSearchMovies(t *testing.T) {
	catalog := &fakeCatalog{
		movies: []MovieRow{
			{TmdbID: 550, Title: "Fight Club", Year: 1999, Quality: "1080p", Provider: "vidlink", AddedAt: time.Now()},
		},
	}
	idx := New(99, "Catalog", catalog, zerolog.Nop())

	results, err := idx.Search(context.Background(), &indexer.SearchCriteria{
		Type:  indexer.SearchTypeMovie,
		Query: "fight club",
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results.Releases) != 1 {
		t.Fatalf("got %d releases, want 1", len(results.Releases))
	}

	r := results.Releases[0]
	if r.DownloadURL != "stream://movie/550" {
		t.Errorf("DownloadURL = %q", r.DownloadURL)
	}
	if r.Title != "Fight Club (1999)" {
		t.Errorf("Title = %q", r.Title)
	}
	if r.Protocol != indexer.ProtocolStreaming {
		t.Errorf("Protocol = %q", r.Protocol)
	}
	if r.GUID == "" || r.GUID != guidFor("stream://movie/550") {
		t.Errorf("unexpected GUID %q", r.GUID)
	}
	if r.StreamProvider != "vidlink" || r.StreamQuality != "1080p" {
		t.Errorf("provider/quality = %q/%q", r.StreamProvider, r.StreamQuality)
	}
}

func TestSearchEpisodeSpecific(t *testing.T) {
	catalog := &fakeCatalog{
		episodes: []EpisodeRow{
			{TmdbID: 1399, SeriesTitle: "Game of Thrones", Season: 3, Episode: 7, Title: "The Bear and the Maiden Fair"},
		},
	}
	idx := New(99, "Catalog", catalog, zerolog.Nop())

	results, err := idx.Search(context.Background(), &indexer.SearchCriteria{
		Type:    indexer.SearchTypeTV,
		Query:   "game of thrones",
		Season:  3,
		Episode: 7,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results.Releases) != 1 {
		t.Fatalf("got %d releases, want 1 (no pack for a specific episode)", len(results.Releases))
	}
	if results.Releases[0].DownloadURL != "stream://tv/1399/3/7" {
		t.Errorf("DownloadURL = %q", results.Releases[0].DownloadURL)
	}
}

func TestSearchSeasonEmitsPack(t *testing.T) {
	catalog := &fakeCatalog{
		episodes: []EpisodeRow{
			{TmdbID: 1399, SeriesTitle: "Game of Thrones", Season: 3, Episode: 1},
			{TmdbID: 1399, SeriesTitle: "Game of Thrones", Season: 3, Episode: 2},
		},
	}
	idx := New(99, "Catalog", catalog, zerolog.Nop())

	results, err := idx.Search(context.Background(), &indexer.SearchCriteria{
		Type:   indexer.SearchTypeTV,
		Query:  "game of thrones",
		Season: 3,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	// Two episodes plus one season pack.
	if len(results.Releases) != 3 {
		t.Fatalf("got %d releases, want 3", len(results.Releases))
	}

	urls := make(map[string]bool)
	for _, r := range results.Releases {
		urls[r.DownloadURL] = true
	}
	for _, want := range []string{"stream://tv/1399/3/1", "stream://tv/1399/3/2", "stream://tv/1399/3"} {
		if !urls[want] {
			t.Errorf("missing release %q", want)
		}
	}
}

func TestSearchSeriesEmitsCompleteSeries(t *testing.T) {
	catalog := &fakeCatalog{
		episodes: []EpisodeRow{
			{TmdbID: 1399, SeriesTitle: "Game of Thrones", Season: 1, Episode: 1},
			{TmdbID: 1399, SeriesTitle: "Game of Thrones", Season: 2, Episode: 1},
		},
	}
	idx := New(99, "Catalog", catalog, zerolog.Nop())

	results, err := idx.Search(context.Background(), &indexer.SearchCriteria{
		Type:  indexer.SearchTypeTV,
		Query: "game of thrones",
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	urls := make(map[string]bool)
	for _, r := range results.Releases {
		urls[r.DownloadURL] = true
	}
	for _, want := range []string{"stream://tv/1399/1", "stream://tv/1399/2", "stream://tv/1399/all"} {
		if !urls[want] {
			t.Errorf("missing release %q", want)
		}
	}
}

func TestSearchPartialFailure(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("db locked")}
	idx := New(99, "Catalog", catalog, zerolog.Nop())

	results, err := idx.Search(context.Background(), &indexer.SearchCriteria{Type: indexer.SearchTypeBasic})
	if err != nil {
		t.Fatalf("Search() should collect errors, got fatal: %v", err)
	}
	if len(results.Errors) == 0 {
		t.Error("expected catalog failure to surface as a search error")
	}
	if len(results.Releases) != 0 {
		t.Errorf("got %d releases, want 0", len(results.Releases))
	}
}

func TestCanSearch(t *testing.T) {
	idx := New(99, "Catalog", &fakeCatalog{}, zerolog.Nop())

	if !idx.CanSearch(&indexer.SearchCriteria{Type: indexer.SearchTypeMovie}) {
		t.Error("movie search should be supported")
	}
	if !idx.CanSearch(&indexer.SearchCriteria{Type: indexer.SearchTypeTV, Categories: []int{indexer.CategoryTV}}) {
		t.Error("tv search should be supported")
	}
	if idx.CanSearch(&indexer.SearchCriteria{Type: indexer.SearchTypeMusic}) {
		t.Error("music search should not be supported")
	}
	if idx.CanSearch(&indexer.SearchCriteria{Type: indexer.SearchTypeBasic, Categories: []int{indexer.CategoryAudio}}) {
		t.Error("audio-only categories should not be searchable")
	}
}
