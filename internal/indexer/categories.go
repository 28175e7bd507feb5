package indexer

// Standard Newznab categories.
// https://newznab.readthedocs.io/en/latest/misc/api/#predefined-categories
const (
	CategoryConsole = 1000
	CategoryMovies  = 2000
	CategoryAudio   = 3000
	CategoryPC      = 4000
	CategoryTV      = 5000
	CategoryXXX     = 6000
	CategoryBooks   = 7000
	CategoryOther   = 8000

	CategoryMoviesForeign = 2010
	CategoryMoviesOther   = 2020
	CategoryMoviesSD      = 2030
	CategoryMoviesHD      = 2040
	CategoryMoviesUHD     = 2045
	CategoryMoviesBluRay  = 2050
	CategoryMovies3D      = 2060
	CategoryMoviesDVD     = 2070
	CategoryMoviesWebDL   = 2080

	CategoryAudioMP3       = 3010
	CategoryAudioVideo     = 3020
	CategoryAudioAudiobook = 3030
	CategoryAudioLossless  = 3040

	CategoryTVWebDL   = 5010
	CategoryTVForeign = 5020
	CategoryTVSD      = 5030
	CategoryTVHD      = 5040
	CategoryTVUHD     = 5045
	CategoryTVOther   = 5050
	CategoryTVSport   = 5060
	CategoryTVAnime   = 5070
	CategoryTVDoc     = 5080

	CategoryBooksEbook = 7020
	CategoryBooksComic = 7030
)

var categoryNames = map[int]string{
	CategoryConsole:        "Console",
	CategoryMovies:         "Movies",
	CategoryMoviesForeign:  "Movies/Foreign",
	CategoryMoviesOther:    "Movies/Other",
	CategoryMoviesSD:       "Movies/SD",
	CategoryMoviesHD:       "Movies/HD",
	CategoryMoviesUHD:      "Movies/UHD",
	CategoryMoviesBluRay:   "Movies/BluRay",
	CategoryMovies3D:       "Movies/3D",
	CategoryMoviesDVD:      "Movies/DVD",
	CategoryMoviesWebDL:    "Movies/WEB-DL",
	CategoryAudio:          "Audio",
	CategoryAudioMP3:       "Audio/MP3",
	CategoryAudioVideo:     "Audio/Video",
	CategoryAudioAudiobook: "Audio/Audiobook",
	CategoryAudioLossless:  "Audio/Lossless",
	CategoryPC:             "PC",
	CategoryTV:             "TV",
	CategoryTVWebDL:        "TV/WEB-DL",
	CategoryTVForeign:      "TV/Foreign",
	CategoryTVSD:           "TV/SD",
	CategoryTVHD:           "TV/HD",
	CategoryTVUHD:          "TV/UHD",
	CategoryTVOther:        "TV/Other",
	CategoryTVSport:        "TV/Sport",
	CategoryTVAnime:        "TV/Anime",
	CategoryTVDoc:          "TV/Documentary",
	CategoryXXX:            "XXX",
	CategoryBooks:          "Books",
	CategoryBooksEbook:     "Books/EBook",
	CategoryBooksComic:     "Books/Comics",
	CategoryOther:          "Other",
}

// CategoryName returns a human-readable name for a Newznab category ID.
func CategoryName(id int) string {
	if name, ok := categoryNames[id]; ok {
		return name
	}
	return "Unknown"
}

// CategoryByName resolves a Newznab category name (e.g. "Movies/HD") back to
// its numeric ID. Returns 0 when unknown.
func CategoryByName(name string) int {
	for id, n := range categoryNames {
		if n == name {
			return id
		}
	}
	return 0
}

// ParentCategory returns the top-level category for any subcategory ID.
func ParentCategory(id int) int {
	return (id / 1000) * 1000
}

// IsMovieCategory reports whether id falls in the Movies block.
func IsMovieCategory(id int) bool {
	return id >= CategoryMovies && id < CategoryAudio
}

// IsTVCategory reports whether id falls in the TV block.
func IsTVCategory(id int) bool {
	return id >= CategoryTV && id < CategoryXXX
}

// DefaultCategoriesFor returns the categories to search when the caller
// supplies none, based on the search type.
func DefaultCategoriesFor(searchType string) []int {
	switch searchType {
	case SearchTypeMovie:
		return []int{CategoryMovies, CategoryMoviesSD, CategoryMoviesHD, CategoryMoviesUHD, CategoryMoviesBluRay, CategoryMoviesWebDL}
	case SearchTypeTV:
		return []int{CategoryTV, CategoryTVSD, CategoryTVHD, CategoryTVUHD, CategoryTVAnime, CategoryTVWebDL}
	case SearchTypeMusic:
		return []int{CategoryAudio, CategoryAudioMP3, CategoryAudioLossless}
	case SearchTypeBook:
		return []int{CategoryBooks, CategoryBooksEbook}
	default:
		return nil
	}
}
