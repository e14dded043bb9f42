// Package similarity ranks catalog books by the cosine similarity of their
// TF-IDF category and description vectors.
package similarity

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/folio/internal/catalog"
)

// DefaultK is the number of recommendations returned when k is not positive.
const DefaultK = 5

var (
	// ErrEmptyCatalog is returned by Build for a catalog with no books.
	ErrEmptyCatalog = errors.New("similarity: empty catalog")

	// ErrStaleIndex is returned when an index is queried against a catalog
	// snapshot of a different size.
	ErrStaleIndex = errors.New("similarity: index does not match catalog")

	// ErrInvalidItem is returned by Build when a book lacks category or
	// description.
	ErrInvalidItem = errors.New("similarity: book missing category or description")
)

// Options tunes recommendation behaviour.
type Options struct {
	// FallbackSize is how many catalog items an unknown title returns.
	// Zero means k-2.
	FallbackSize int
}

// Index holds the pairwise similarity of one catalog snapshot. It is
// immutable after Build and safe for concurrent readers.
type Index struct {
	books  []catalog.Book
	scores []float64 // row-major n*n
	vocab  int
}

// Build vectorizes every book's soup and computes the full cosine matrix.
func Build(books []catalog.Book) (*Index, error) {
	if len(books) == 0 {
		return nil, ErrEmptyCatalog
	}
	docs := make([]string, len(books))
	for i, b := range books {
		if strings.TrimSpace(b.Category) == "" || strings.TrimSpace(b.Description) == "" {
			return nil, fmt.Errorf("book %s (%q): %w", b.ID, b.Title, ErrInvalidItem)
		}
		docs[i] = b.Soup()
	}

	rows, vocab := vectorize(docs)
	n := len(rows)
	scores := make([]float64, n*n)
	for i := 0; i < n; i++ {
		scores[i*n+i] = 1
		for j := i + 1; j < n; j++ {
			s := clamp01(rows[i].dot(rows[j]))
			scores[i*n+j] = s
			scores[j*n+i] = s
		}
	}

	snapshot := make([]catalog.Book, n)
	copy(snapshot, books)
	return &Index{books: snapshot, scores: scores, vocab: vocab}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Dim is the catalog size the index was built for.
func (ix *Index) Dim() int { return len(ix.books) }

// Vocabulary is the number of distinct terms seen at build time.
func (ix *Index) Vocabulary() int { return ix.vocab }

// Score returns the similarity of rows i and j.
func (ix *Index) Score(i, j int) float64 {
	return ix.scores[i*len(ix.books)+j]
}

// Books returns a copy of the snapshot the index was built from.
func (ix *Index) Books() []catalog.Book {
	out := make([]catalog.Book, len(ix.books))
	copy(out, ix.books)
	return out
}

// Find returns the row of the first book whose title equals title exactly.
func (ix *Index) Find(title string) (int, bool) {
	return findTitle(ix.books, title)
}

func findTitle(books []catalog.Book, title string) (int, bool) {
	for i, b := range books {
		if b.Title == title {
			return i, true
		}
	}
	return -1, false
}

// Match is one ranked neighbour.
type Match struct {
	Row   int
	Score float64
}

// Neighbors ranks every other row by similarity to row, highest first, ties
// in catalog order, and returns at most k of them.
func (ix *Index) Neighbors(row, k int) []Match {
	n := len(ix.books)
	matches := make([]Match, 0, n-1)
	for j := 0; j < n; j++ {
		if j == row {
			continue
		}
		matches = append(matches, Match{Row: j, Score: ix.Score(row, j)})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// FallbackCount is the number of catalog items returned for an unknown
// title, clamped to [0, n].
func FallbackCount(k, n int, opts Options) int {
	c := k - 2
	if opts.FallbackSize > 0 {
		c = opts.FallbackSize
	}
	return max(0, min(c, n))
}

// Recommend returns up to k books most similar to title. An unknown title
// yields the first FallbackCount books of the catalog instead.
func (ix *Index) Recommend(title string, k int, opts Options) []catalog.Book {
	out, _ := Recommend(ix, ix.books, title, k, opts)
	return out
}

// Recommend is the free-standing form of Index.Recommend for callers holding
// their own catalog slice. It fails with ErrStaleIndex when books does not
// match the index dimension.
func Recommend(ix *Index, books []catalog.Book, title string, k int, opts Options) ([]catalog.Book, error) {
	if ix == nil || ix.Dim() != len(books) {
		return nil, ErrStaleIndex
	}
	if k <= 0 {
		k = DefaultK
	}

	row, ok := findTitle(books, title)
	if !ok {
		n := FallbackCount(k, len(books), opts)
		out := make([]catalog.Book, n)
		copy(out, books[:n])
		return out, nil
	}

	matches := ix.Neighbors(row, k)
	out := make([]catalog.Book, len(matches))
	for i, m := range matches {
		out[i] = books[m.Row]
	}
	return out, nil
}
