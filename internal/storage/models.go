package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/folio/internal/catalog"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
// It wraps catalog.ErrDuplicateImport so the importer can recognise it
// without depending on this package.
var ErrDuplicate = fmt.Errorf("duplicate record: %w", catalog.ErrDuplicateImport)

// JobTypeReindex asks the indexer to rebuild the similarity index.
const JobTypeReindex = "catalog_reindex"

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// LibraryEntry is a purchased book with its purchase time.
type LibraryEntry struct {
	Book        catalog.Book `json:"book"`
	PurchasedAt time.Time    `json:"purchased_at"`
}
