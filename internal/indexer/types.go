// Package indexer contains the shared contracts for the YAML-driven
// indexer runtime: search criteria, release results, capabilities and the
// Indexer interface implemented by the cardigann and stream packages.
package indexer

import (
	"context"
	"time"
)

// Protocol represents the download protocol of a release.
type Protocol string

const (
	ProtocolTorrent   Protocol = "torrent"
	ProtocolUsenet    Protocol = "usenet"
	ProtocolStreaming Protocol = "streaming"
)

// Privacy represents indexer privacy level.
type Privacy string

const (
	PrivacyPublic      Privacy = "public"
	PrivacySemiPrivate Privacy = "semi-private"
	PrivacyPrivate     Privacy = "private"
)

// Search types accepted in SearchCriteria.Type.
const (
	SearchTypeBasic = "search"
	SearchTypeMovie = "movie"
	SearchTypeTV    = "tvsearch"
	SearchTypeMusic = "music"
	SearchTypeBook  = "book"
)

// SearchCriteria defines the parameters of one search call. It is built by
// the caller and consumed once; the runtime never mutates it.
type SearchCriteria struct {
	Query      string `json:"query,omitempty"`
	Type       string `json:"type"` // search, movie, tvsearch, music, book
	Categories []int  `json:"categories,omitempty"`

	// Movie-specific
	ImdbID string `json:"imdbId,omitempty"`
	TmdbID int    `json:"tmdbId,omitempty"`
	Year   int    `json:"year,omitempty"`

	// TV-specific
	TvdbID  int `json:"tvdbId,omitempty"`
	Season  int `json:"season,omitempty"`
	Episode int `json:"episode,omitempty"`

	// Music-specific
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`

	// Book-specific
	Author string `json:"author,omitempty"`
	Title  string `json:"title,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ReleaseResult is the canonical extracted unit produced by a search.
// A result is only valid when it carries a download URL, a magnet URL or an
// info hash; the parser drops rows that have none.
type ReleaseResult struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	DownloadURL string    `json:"downloadUrl"`
	InfoURL     string    `json:"infoUrl,omitempty"`
	Size        int64     `json:"size"`
	PublishDate time.Time `json:"publishDate"`
	Categories  []int     `json:"categories"`

	IndexerID   int64    `json:"indexerId"`
	IndexerName string   `json:"indexer"`
	Protocol    Protocol `json:"protocol"`

	// External IDs
	ImdbID string `json:"imdbId,omitempty"`
	TmdbID int    `json:"tmdbId,omitempty"`
	TvdbID int    `json:"tvdbId,omitempty"`

	// Torrent payload
	Seeders              int     `json:"seeders,omitempty"`
	Leechers             int     `json:"leechers,omitempty"`
	Grabs                int     `json:"grabs,omitempty"`
	InfoHash             string  `json:"infoHash,omitempty"`
	MagnetURL            string  `json:"magnetUrl,omitempty"`
	MinimumRatio         float64 `json:"minimumRatio,omitempty"`
	MinimumSeedTime      int64   `json:"minimumSeedTime,omitempty"`
	DownloadVolumeFactor float64 `json:"downloadVolumeFactor,omitempty"`
	UploadVolumeFactor   float64 `json:"uploadVolumeFactor,omitempty"`

	// Usenet payload
	Poster    string `json:"poster,omitempty"`
	Group     string `json:"group,omitempty"`
	Retention int    `json:"retention,omitempty"` // days

	// Streaming payload
	StreamProvider string `json:"streamProvider,omitempty"`
	StreamQuality  string `json:"streamQuality,omitempty"`
}

// SearchError records a non-fatal error encountered during one search call.
type SearchError struct {
	Phase   string `json:"phase"` // auth, request, parse, row
	Message string `json:"message"`
}

// SearchResults carries everything one search call extracted, together with
// the non-fatal errors hit along the way. Partial results are valid.
type SearchResults struct {
	Releases []ReleaseResult `json:"releases"`
	Errors   []SearchError   `json:"errors,omitempty"`
}

// DownloadResult is the outcome of fetching a release payload.
type DownloadResult struct {
	Success   bool   `json:"success"`
	Data      []byte `json:"-"`
	MagnetURL string `json:"magnetUrl,omitempty"`
	InfoHash  string `json:"infoHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IndexerConfig is one user-configured indexer instance. It references a
// definition by ID and overrides instance-level settings. The runtime treats
// it as read-only.
type IndexerConfig struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	DefinitionID  string            `json:"definitionId"`
	BaseURL       string            `json:"baseUrl,omitempty"`
	AlternateURLs []string          `json:"alternateUrls,omitempty"`
	Priority      int               `json:"priority"`
	Enabled       bool              `json:"enabled"`
	Protocol      Protocol          `json:"protocol,omitempty"`
	Settings      map[string]string `json:"settings,omitempty"`
}

// Capabilities describes what an indexer supports.
type Capabilities struct {
	SupportsSearch    bool              `json:"supportsSearch"`
	SupportsMovies    bool              `json:"supportsMovies"`
	SupportsTV        bool              `json:"supportsTV"`
	SupportsMusic     bool              `json:"supportsMusic"`
	SupportsBooks     bool              `json:"supportsBooks"`
	SearchParams      []string          `json:"searchParams,omitempty"`
	TvSearchParams    []string          `json:"tvSearchParams,omitempty"`
	MovieSearchParams []string          `json:"movieSearchParams,omitempty"`
	Categories        []CategoryMapping `json:"categories,omitempty"`
}

// CategoryMapping maps an indexer-native category to a Newznab category.
type CategoryMapping struct {
	IndexerID   string `json:"indexerId"` // site-native category identifier
	NewznabID   int    `json:"newznabId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Indexer is the contract every indexer implementation satisfies.
type Indexer interface {
	// Name returns the configured display name.
	Name() string

	// Capabilities reports supported search modes and categories.
	Capabilities() Capabilities

	// CanSearch reports whether the criteria are compatible with the
	// indexer's capabilities and categories. No network I/O.
	CanSearch(criteria *SearchCriteria) bool

	// Search executes the criteria and returns extracted releases plus any
	// non-fatal errors. Within one call requests run sequentially.
	Search(ctx context.Context, criteria *SearchCriteria) (*SearchResults, error)

	// Test verifies the indexer is reachable and, when configured,
	// authenticated.
	Test(ctx context.Context) error

	// DownloadURL resolves the concrete download URL for a release.
	DownloadURL(release *ReleaseResult) (string, error)

	// DownloadTorrent fetches a release payload, following indexer redirect
	// tricks, and returns the torrent data or magnet link.
	DownloadTorrent(ctx context.Context, url string) (*DownloadResult, error)

	// Destroy releases per-indexer shared state (cookie jar, rate-limit
	// registrations). The indexer must not be used afterwards.
	Destroy()
}
