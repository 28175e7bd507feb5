package indexer

import "testing"

func TestCategoryNames(t *testing.T) {
	tests := []struct {
		id   int
		name string
	}{
		{CategoryMovies, "Movies"},
		{CategoryMoviesHD, "Movies/HD"},
		{CategoryTVAnime, "TV/Anime"},
		{CategoryBooksEbook, "Books/EBook"},
		{9999, "Unknown"},
	}
	for _, tt := range tests {
		if got := CategoryName(tt.id); got != tt.name {
			t.Errorf("CategoryName(%d) = %q, want %q", tt.id, got, tt.name)
		}
	}
}

func TestCategoryByName(t *testing.T) {
	if got := CategoryByName("TV/HD"); got != CategoryTVHD {
		t.Errorf("CategoryByName(TV/HD) = %d, want %d", got, CategoryTVHD)
	}
	if got := CategoryByName("Nope"); got != 0 {
		t.Errorf("CategoryByName(Nope) = %d, want 0", got)
	}
}

func TestParentCategory(t *testing.T) {
	tests := []struct {
		id     int
		parent int
	}{
		{CategoryMoviesHD, CategoryMovies},
		{CategoryTVUHD, CategoryTV},
		{CategoryMovies, CategoryMovies},
		{CategoryAudioLossless, CategoryAudio},
	}
	for _, tt := range tests {
		if got := ParentCategory(tt.id); got != tt.parent {
			t.Errorf("ParentCategory(%d) = %d, want %d", tt.id, got, tt.parent)
		}
	}
}

func TestCategoryBlocks(t *testing.T) {
	if !IsMovieCategory(CategoryMoviesBluRay) || IsMovieCategory(CategoryTVHD) {
		t.Error("IsMovieCategory misclassifies")
	}
	if !IsTVCategory(CategoryTVSport) || IsTVCategory(CategoryMoviesHD) {
		t.Error("IsTVCategory misclassifies")
	}
}

func TestDefaultCategoriesFor(t *testing.T) {
	movie := DefaultCategoriesFor(SearchTypeMovie)
	if len(movie) == 0 || movie[0] != CategoryMovies {
		t.Errorf("movie defaults = %v", movie)
	}
	for _, id := range movie {
		if !IsMovieCategory(id) {
			t.Errorf("movie default %d outside movie block", id)
		}
	}

	tv := DefaultCategoriesFor(SearchTypeTV)
	for _, id := range tv {
		if !IsTVCategory(id) {
			t.Errorf("tv default %d outside tv block", id)
		}
	}

	if got := DefaultCategoriesFor(SearchTypeBasic); got != nil {
		t.Errorf("basic search defaults = %v, want nil", got)
	}
}
