package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrExternalService marks failures talking to the external catalog. Callers
// treat it as "no results", never as a fatal error.
var ErrExternalService = errors.New("external catalog unavailable")

const (
	// SubjectPrefix is the query form for genre searches ("subject:horror").
	SubjectPrefix = "subject:"

	importedDescription = "Imported from Global Library"
	defaultYear         = 2000
	coverURLFormat      = "https://covers.openlibrary.org/b/id/%d-L.jpg"
)

// ExternalRecord is a raw search result from the external catalog. Field tags
// follow the Open Library search document.
type ExternalRecord struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorNames      []string `json:"author_name,omitempty"`
	ArchiveIDs       []string `json:"ia,omitempty"`
	CoverID          int64    `json:"cover_i,omitempty"`
	FirstPublishYear int      `json:"first_publish_year,omitempty"`
	HasFulltext      bool     `json:"has_fulltext"`
}

// Searcher is the external catalog capability. Zero results is a valid answer.
type Searcher interface {
	Search(ctx context.Context, query string, limit, offset int) ([]ExternalRecord, error)
}

// PriceForTitle derives a stable price from the title alone:
// (sum of code points) mod 500 + 99, in cents.
func PriceForTitle(title string) Price {
	sum := 0
	for _, r := range title {
		sum += int(r)
	}
	return Price(sum%500 + 99)
}

// Usable reports whether a record can be offered: it needs the full-text
// flag, an archive id and a cover image id.
func Usable(rec ExternalRecord) bool {
	return rec.HasFulltext && len(rec.ArchiveIDs) > 0 && rec.ArchiveIDs[0] != "" && rec.CoverID != 0
}

// SubjectLabel turns a search query into a category label: the subject
// prefix is stripped, the first letter upper-cased and the rest lower-cased.
func SubjectLabel(query string) string {
	s := strings.TrimPrefix(query, SubjectPrefix)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// FromExternal maps a usable record to a Book tagged with an external id.
func FromExternal(rec ExternalRecord, query string) Book {
	author := UnknownAuthor
	if len(rec.AuthorNames) > 0 && rec.AuthorNames[0] != "" {
		author = rec.AuthorNames[0]
	}
	year := rec.FirstPublishYear
	if year == 0 {
		year = defaultYear
	}
	var archiveID string
	if len(rec.ArchiveIDs) > 0 {
		archiveID = rec.ArchiveIDs[0]
	}
	return Book{
		ID:              ExternalID(rec.Key),
		Title:           rec.Title,
		Author:          author,
		Category:        SubjectLabel(query),
		Description:     importedDescription,
		Price:           PriceForTitle(rec.Title),
		CoverURL:        fmt.Sprintf(coverURLFormat, rec.CoverID),
		Year:            year,
		SourceArchiveID: archiveID,
	}
}

// Lookup searches the external catalog and returns the usable results as
// books. Any search failure is logged and yields no books.
func Lookup(ctx context.Context, s Searcher, query string, limit, offset int) []Book {
	recs, err := s.Search(ctx, query, limit, offset)
	if err != nil {
		slog.Warn("external catalog search failed", "query", query, "offset", offset, "error", err)
		return nil
	}
	books := make([]Book, 0, len(recs))
	for _, rec := range recs {
		if !Usable(rec) {
			continue
		}
		books = append(books, FromExternal(rec, query))
	}
	return books
}
