package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/folio/internal/metrics"
)

const (
	importedCategory = "Imported"
	importedRating   = 4.5
)

var (
	// ErrMissingArchiveID is returned when an external book cannot be matched
	// against the local catalog because it has no archive id.
	ErrMissingArchiveID = errors.New("external book has no archive id")

	// ErrInvalidBook is returned for books without a usable id.
	ErrInvalidBook = errors.New("book has no id")
)

// ImportStore is the persistence the Importer needs. Implemented by
// storage.Store. InsertBook must return an error wrapping ErrDuplicateImport
// when the archive id is already present.
type ImportStore interface {
	FindBookByArchiveID(ctx context.Context, archiveID string) (Book, bool, error)
	InsertBook(ctx context.Context, b Book) (int64, error)
}

// Reindexer is notified after a new book lands in the local catalog.
type Reindexer interface {
	RequestReindex(ctx context.Context) error
}

// Importer persists externally sourced books into the local catalog exactly
// once per archive id.
type Importer struct {
	store     ImportStore
	reindexer Reindexer
}

// NewImporter creates an Importer. reindexer may be nil.
func NewImporter(store ImportStore, reindexer Reindexer) *Importer {
	return &Importer{store: store, reindexer: reindexer}
}

// Import returns the local id for b. Local books are returned as-is. External
// books are matched by archive id; a match reuses the existing row, otherwise
// a new row is inserted. A duplicate-key failure on insert means a concurrent
// import won the race, and the winner's row is returned.
func (im *Importer) Import(ctx context.Context, b Book) (int64, error) {
	if !b.ID.IsExternal() {
		if b.ID.Local <= 0 {
			return 0, ErrInvalidBook
		}
		return b.ID.Local, nil
	}
	if b.SourceArchiveID == "" {
		return 0, ErrMissingArchiveID
	}

	existing, ok, err := im.store.FindBookByArchiveID(ctx, b.SourceArchiveID)
	if err != nil {
		return 0, fmt.Errorf("looking up archive id %s: %w", b.SourceArchiveID, err)
	}
	if ok {
		metrics.Imports.WithLabelValues("reused").Inc()
		return existing.ID.Local, nil
	}

	id, err := im.store.InsertBook(ctx, importedRow(b))
	if errors.Is(err, ErrDuplicateImport) {
		slog.Debug("import raced with another request, reusing row", "ia_id", b.SourceArchiveID)
		existing, ok, ferr := im.store.FindBookByArchiveID(ctx, b.SourceArchiveID)
		if ferr != nil {
			return 0, fmt.Errorf("re-reading archive id %s: %w", b.SourceArchiveID, ferr)
		}
		if !ok {
			return 0, fmt.Errorf("archive id %s reported as duplicate but not found", b.SourceArchiveID)
		}
		metrics.Imports.WithLabelValues("duplicate").Inc()
		return existing.ID.Local, nil
	}
	if err != nil {
		return 0, fmt.Errorf("importing %q: %w", b.Title, err)
	}
	metrics.Imports.WithLabelValues("inserted").Inc()

	if im.reindexer != nil {
		if err := im.reindexer.RequestReindex(ctx); err != nil {
			slog.Warn("import succeeded but reindex request failed", "book_id", id, "error", err)
		}
	}
	return id, nil
}

// importedRow prepares an external book for insertion. The subject label
// from the search survives as category when present. The price is always
// derived from the title; a client-supplied price is ignored.
func importedRow(b Book) Book {
	row := b
	row.ID = ID{}
	if row.Category == "" {
		row.Category = importedCategory
	}
	if row.Description == "" {
		row.Description = importedDescription
	}
	if row.Author == "" {
		row.Author = UnknownAuthor
	}
	row.Price = PriceForTitle(row.Title)
	row.Rating = importedRating
	return row
}
