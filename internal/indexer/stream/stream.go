// Package stream implements the internal streaming-catalog indexer. It
// searches an injected catalog instead of a remote site and emits synthetic
// stream:// release URLs that downstream consumers parse, so the URL shapes
// here are a stable contract.
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keonramses/cinephage/internal/indexer"
)

// URL shapes of the stream:// scheme. {tmdbId} is always the series or
// movie TMDB ID.
//
//	stream://movie/{tmdbId}
//	stream://tv/{tmdbId}/{season}/{episode}
//	stream://tv/{tmdbId}/{season}        season pack
//	stream://tv/{tmdbId}/all             complete series
const Scheme = "stream://"

// MovieRow is a catalog movie available for streaming.
type MovieRow struct {
	TmdbID   int
	ImdbID   string
	Title    string
	Year     int
	Quality  string
	Provider string
	AddedAt  time.Time
}

// EpisodeRow is a single streamable episode of a series.
type EpisodeRow struct {
	TmdbID      int
	TvdbID      int
	SeriesTitle string
	Season      int
	Episode     int
	Title       string
	Quality     string
	Provider    string
	AirDate     time.Time
}

// CatalogQuerier is the injected query capability over the local media
// catalog. Implementations live outside this package; typically they wrap
// the metadata database.
type CatalogQuerier interface {
	// SearchMovies returns catalog movies matching the criteria.
	SearchMovies(ctx context.Context, criteria *indexer.SearchCriteria) ([]MovieRow, error)
	// SearchEpisodes returns catalog episodes matching the criteria.
	SearchEpisodes(ctx context.Context, criteria *indexer.SearchCriteria) ([]EpisodeRow, error)
}

// Indexer exposes the local streaming catalog through the shared Indexer
// interface.
type Indexer struct {
	id      int64
	name    string
	querier CatalogQuerier
	logger  zerolog.Logger
}

// New creates a streaming-catalog indexer.
func New(id int64, name string, querier CatalogQuerier, logger zerolog.Logger) *Indexer {
	if name == "" {
		name = "Streaming Catalog"
	}
	return &Indexer{
		id:      id,
		name:    name,
		querier: querier,
		logger:  logger.With().Str("component", "stream").Int64("indexerId", id).Logger(),
	}
}

// MovieURL returns the synthetic URL for a streamable movie.
func MovieURL(tmdbID int) string {
	return fmt.Sprintf("%smovie/%d", Scheme, tmdbID)
}

// EpisodeURL returns the synthetic URL for one episode.
func EpisodeURL(tmdbID, season, episode int) string {
	return fmt.Sprintf("%stv/%d/%d/%d", Scheme, tmdbID, season, episode)
}

// SeasonURL returns the synthetic URL for a season pack.
func SeasonURL(tmdbID, season int) string {
	return fmt.Sprintf("%stv/%d/%d", Scheme, tmdbID, season)
}

// SeriesURL returns the synthetic URL for a complete series.
func SeriesURL(tmdbID int) string {
	return fmt.Sprintf("%stv/%d/all", Scheme, tmdbID)
}

// IsStreamURL reports whether a URL uses the stream scheme.
func IsStreamURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, Scheme)
}

// guidFor derives a stable GUID from a synthetic URL. The same logical
// release always maps to the same GUID.
func guidFor(streamURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(streamURL)).String()
}

// Name returns the configured display name.
func (s *Indexer) Name() string {
	return s.name
}

// Capabilities reports movie and TV search over the streaming categories.
func (s *Indexer) Capabilities() indexer.Capabilities {
	return indexer.Capabilities{
		SupportsSearch:    true,
		SupportsMovies:    true,
		SupportsTV:        true,
		SearchParams:      []string{"q"},
		MovieSearchParams: []string{"q", "tmdbid", "imdbid", "year"},
		TvSearchParams:    []string{"q", "tmdbid", "season", "ep"},
		Categories: []indexer.CategoryMapping{
			{IndexerID: "movie", NewznabID: indexer.CategoryMovies, Name: "Movies"},
			{IndexerID: "tv", NewznabID: indexer.CategoryTV, Name: "TV"},
		},
	}
}

// CanSearch accepts movie, TV and generic searches whose categories touch
// movies or TV.
func (s *Indexer) CanSearch(criteria *indexer.SearchCriteria) bool {
	if criteria == nil {
		return false
	}
	switch criteria.Type {
	case indexer.SearchTypeMusic, indexer.SearchTypeBook:
		return false
	}
	if len(criteria.Categories) == 0 {
		return true
	}
	for _, cat := range criteria.Categories {
		if indexer.IsMovieCategory(cat) || indexer.IsTVCategory(cat) {
			return true
		}
	}
	return false
}

// Search queries the catalog and maps the rows onto synthetic releases.
func (s *Indexer) Search(ctx context.Context, criteria *indexer.SearchCriteria) (*indexer.SearchResults, error) {
	if !s.CanSearch(criteria) {
		return nil, indexer.NewConfigError(s.name,
			fmt.Sprintf("search type %q is not supported", criteria.Type))
	}

	results := &indexer.SearchResults{}

	if s.wantsMovies(criteria) {
		if err := s.searchMovies(ctx, criteria, results); err != nil {
			results.Errors = append(results.Errors, indexer.SearchError{
				Phase:   "request",
				Message: err.Error(),
			})
		}
	}
	if s.wantsTV(criteria) {
		if err := s.searchEpisodes(ctx, criteria, results); err != nil {
			results.Errors = append(results.Errors, indexer.SearchError{
				Phase:   "request",
				Message: err.Error(),
			})
		}
	}

	s.logger.Debug().
		Int("releases", len(results.Releases)).
		Int("errors", len(results.Errors)).
		Msg("Catalog search completed")

	return results, nil
}

func (s *Indexer) wantsMovies(criteria *indexer.SearchCriteria) bool {
	if criteria.Type == indexer.SearchTypeTV {
		return false
	}
	if len(criteria.Categories) == 0 {
		return true
	}
	for _, cat := range criteria.Categories {
		if indexer.IsMovieCategory(cat) {
			return true
		}
	}
	return false
}

func (s *Indexer) wantsTV(criteria *indexer.SearchCriteria) bool {
	if criteria.Type == indexer.SearchTypeMovie {
		return false
	}
	if len(criteria.Categories) == 0 {
		return true
	}
	for _, cat := range criteria.Categories {
		if indexer.IsTVCategory(cat) {
			return true
		}
	}
	return false
}

func (s *Indexer) searchMovies(ctx context.Context, criteria *indexer.SearchCriteria, results *indexer.SearchResults) error {
	rows, err := s.querier.SearchMovies(ctx, criteria)
	if err != nil {
		return fmt.Errorf("movie catalog query failed: %w", err)
	}

	for _, row := range rows {
		results.Releases = append(results.Releases, s.movieRelease(row))
	}
	return nil
}

func (s *Indexer) movieRelease(row MovieRow) indexer.ReleaseResult {
	streamURL := MovieURL(row.TmdbID)
	title := row.Title
	if row.Year > 0 {
		title = fmt.Sprintf("%s (%d)", row.Title, row.Year)
	}

	return indexer.ReleaseResult{
		GUID:           guidFor(streamURL),
		Title:          title,
		DownloadURL:    streamURL,
		PublishDate:    row.AddedAt,
		Categories:     []int{indexer.CategoryMovies},
		IndexerID:      s.id,
		IndexerName:    s.name,
		Protocol:       indexer.ProtocolStreaming,
		ImdbID:         row.ImdbID,
		TmdbID:         row.TmdbID,
		StreamProvider: row.Provider,
		StreamQuality:  row.Quality,
	}
}

// searchEpisodes emits one release per matching episode, plus season-pack
// and complete-series releases when the criteria are broad enough.
func (s *Indexer) searchEpisodes(ctx context.Context, criteria *indexer.SearchCriteria, results *indexer.SearchResults) error {
	rows, err := s.querier.SearchEpisodes(ctx, criteria)
	if err != nil {
		return fmt.Errorf("episode catalog query failed: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	type seasonKey struct {
		tmdbID int
		season int
	}
	seasons := make(map[seasonKey]EpisodeRow)
	series := make(map[int]EpisodeRow)

	for _, row := range rows {
		results.Releases = append(results.Releases, s.episodeRelease(row))
		seasons[seasonKey{row.TmdbID, row.Season}] = row
		series[row.TmdbID] = row
	}

	// A specific episode request is already satisfied by the per-episode
	// releases above.
	if criteria.Episode > 0 {
		return nil
	}

	if criteria.Season > 0 {
		for key, row := range seasons {
			results.Releases = append(results.Releases, s.seasonRelease(row, key.season))
		}
		return nil
	}

	for key, row := range seasons {
		results.Releases = append(results.Releases, s.seasonRelease(row, key.season))
	}
	for _, row := range series {
		results.Releases = append(results.Releases, s.seriesRelease(row))
	}
	return nil
}

func (s *Indexer) episodeRelease(row EpisodeRow) indexer.ReleaseResult {
	streamURL := EpisodeURL(row.TmdbID, row.Season, row.Episode)
	title := fmt.Sprintf("%s S%02dE%02d", row.SeriesTitle, row.Season, row.Episode)
	if row.Title != "" {
		title = fmt.Sprintf("%s %s", title, row.Title)
	}
	return s.tvRelease(row, streamURL, title)
}

func (s *Indexer) seasonRelease(row EpisodeRow, season int) indexer.ReleaseResult {
	streamURL := SeasonURL(row.TmdbID, season)
	title := fmt.Sprintf("%s S%02d", row.SeriesTitle, season)
	return s.tvRelease(row, streamURL, title)
}

func (s *Indexer) seriesRelease(row EpisodeRow) indexer.ReleaseResult {
	streamURL := SeriesURL(row.TmdbID)
	title := fmt.Sprintf("%s Complete Series", row.SeriesTitle)
	return s.tvRelease(row, streamURL, title)
}

func (s *Indexer) tvRelease(row EpisodeRow, streamURL, title string) indexer.ReleaseResult {
	return indexer.ReleaseResult{
		GUID:           guidFor(streamURL),
		Title:          title,
		DownloadURL:    streamURL,
		PublishDate:    row.AirDate,
		Categories:     []int{indexer.CategoryTV},
		IndexerID:      s.id,
		IndexerName:    s.name,
		Protocol:       indexer.ProtocolStreaming,
		TmdbID:         row.TmdbID,
		TvdbID:         row.TvdbID,
		StreamProvider: row.Provider,
		StreamQuality:  row.Quality,
	}
}

// Test verifies the catalog querier responds.
func (s *Indexer) Test(ctx context.Context) error {
	_, err := s.querier.SearchMovies(ctx, &indexer.SearchCriteria{Type: indexer.SearchTypeMovie, Limit: 1})
	if err != nil {
		return fmt.Errorf("catalog query failed: %w", err)
	}
	return nil
}

// DownloadURL returns the release's synthetic stream URL.
func (s *Indexer) DownloadURL(release *indexer.ReleaseResult) (string, error) {
	if release == nil || release.DownloadURL == "" {
		return "", fmt.Errorf("release has no stream URL")
	}
	return release.DownloadURL, nil
}

// DownloadTorrent is not applicable: stream URLs are resolved by the
// playback layer, not fetched as payloads.
func (s *Indexer) DownloadTorrent(ctx context.Context, rawURL string) (*indexer.DownloadResult, error) {
	if !IsStreamURL(rawURL) {
		return nil, fmt.Errorf("not a stream URL: %s", rawURL)
	}
	return &indexer.DownloadResult{
		Success: true,
		Error:   "",
	}, nil
}

// Destroy is a no-op: the catalog indexer holds no shared network state.
func (s *Indexer) Destroy() {}

var _ indexer.Indexer = (*Indexer)(nil)
