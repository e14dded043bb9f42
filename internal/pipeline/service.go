// Package pipeline wires the catalog, similarity index, interest resolver and
// feed composer into the operations served over HTTP, MCP and the CLI.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/feed"
	"github.com/kalambet/folio/internal/interest"
	"github.com/kalambet/folio/internal/similarity"
	"github.com/kalambet/folio/internal/storage"
)

const (
	// ExternalSearchLimit caps ad-hoc external searches.
	ExternalSearchLimit = 20

	embedURLFormat = "https://archive.org/embed/%s?ui=embed&wrapper=false"
)

var (
	// ErrIndexNotReady is returned before the first similarity index is published.
	ErrIndexNotReady = errors.New("similarity index not built yet")

	// ErrNotReadable is returned for books without an archive id.
	ErrNotReadable = errors.New("book has no readable edition")

	// ErrMissingUser is returned when a write needs a user id.
	ErrMissingUser = errors.New("user_id is required")
)

// Store is the persistence the Service needs. Implemented by storage.Store.
type Store interface {
	ListBooks(ctx context.Context) ([]catalog.Book, error)
	GetBook(ctx context.Context, id int64) (catalog.Book, error)
	RecordPurchase(ctx context.Context, userID string, bookID int64) (bool, error)
	Library(ctx context.Context, userID string) ([]storage.LibraryEntry, error)
}

// Config holds the tunables of the Service.
type Config struct {
	Genres      []string
	RowCount    int
	K           int
	Recommend   similarity.Options
	FeedTimeout time.Duration
}

// Service is the application layer shared by all front ends.
type Service struct {
	store    Store
	index    *similarity.Holder
	resolver *interest.Resolver
	composer *feed.Composer
	importer *catalog.Importer
	searcher catalog.Searcher
	cfg      Config
}

// NewService creates a Service. Zero config values take the package defaults.
func NewService(
	store Store,
	index *similarity.Holder,
	resolver *interest.Resolver,
	composer *feed.Composer,
	importer *catalog.Importer,
	searcher catalog.Searcher,
	cfg Config,
) *Service {
	if len(cfg.Genres) == 0 {
		cfg.Genres = feed.DefaultGenres
	}
	if cfg.RowCount <= 0 {
		cfg.RowCount = feed.DefaultRowCount
	}
	if cfg.K <= 0 {
		cfg.K = similarity.DefaultK
	}
	return &Service{
		store:    store,
		index:    index,
		resolver: resolver,
		composer: composer,
		importer: importer,
		searcher: searcher,
		cfg:      cfg,
	}
}

// Similar returns books similar to title. k <= 0 uses the configured default.
func (s *Service) Similar(ctx context.Context, title string, k int) ([]catalog.Book, error) {
	ix := s.index.Current()
	if ix == nil {
		return nil, ErrIndexNotReady
	}
	if k <= 0 {
		k = s.cfg.K
	}
	return ix.Recommend(title, k, s.cfg.Recommend), nil
}

// Feed builds the personalized feed for userID. Anonymous users get the
// bestsellers row.
func (s *Service) Feed(ctx context.Context, userID string) (feed.Feed, error) {
	sig, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		slog.Warn("resolving interest failed, using bestsellers", "user_id", userID, "error", err)
		sig = interest.Bestsellers()
	}
	f, err := s.composer.ComposeForSignal(ctx, sig, s.cfg.Genres, s.cfg.RowCount)
	if err != nil {
		return feed.Feed{}, fmt.Errorf("composing feed: %w", err)
	}
	slog.Debug("feed composed", "user_id", userID, "signal", sig.String(), "rows", len(f.Rows))
	return f, nil
}

// SearchExternal queries the external catalog directly. Failures yield an
// empty result.
func (s *Service) SearchExternal(ctx context.Context, query string) []catalog.Book {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return catalog.Lookup(ctx, s.searcher, query, ExternalSearchLimit, 0)
}

// PurchaseResult reports the outcome of a purchase.
type PurchaseResult struct {
	BookID int64 `json:"book_id"`
	// Added is false when the user already owned the book.
	Added bool `json:"success"`
}

// Purchase imports b if it is external, then adds it to the user's library.
func (s *Service) Purchase(ctx context.Context, userID string, b catalog.Book) (PurchaseResult, error) {
	if userID == "" {
		return PurchaseResult{}, ErrMissingUser
	}
	if !b.ID.IsExternal() {
		if _, err := s.store.GetBook(ctx, b.ID.Local); err != nil {
			return PurchaseResult{}, err
		}
	}
	id, err := s.importer.Import(ctx, b)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("importing book: %w", err)
	}
	added, err := s.store.RecordPurchase(ctx, userID, id)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("recording purchase: %w", err)
	}
	if added {
		s.resolver.Invalidate(userID)
	}
	return PurchaseResult{BookID: id, Added: added}, nil
}

// Onboard stores the user's genre picks.
func (s *Service) Onboard(ctx context.Context, userID string, genres []string) error {
	if userID == "" {
		return ErrMissingUser
	}
	return s.resolver.SaveOnboarding(ctx, userID, genres)
}

func (s *Service) Library(ctx context.Context, userID string) ([]storage.LibraryEntry, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.store.Library(ctx, userID)
}

func (s *Service) Books(ctx context.Context) ([]catalog.Book, error) {
	return s.store.ListBooks(ctx)
}

func (s *Service) Book(ctx context.Context, id int64) (catalog.Book, error) {
	return s.store.GetBook(ctx, id)
}

// ReadURL returns a local book with its archive.org embed URL.
func (s *Service) ReadURL(ctx context.Context, id int64) (catalog.Book, string, error) {
	b, err := s.store.GetBook(ctx, id)
	if err != nil {
		return catalog.Book{}, "", err
	}
	if b.SourceArchiveID == "" {
		return b, "", ErrNotReadable
	}
	return b, fmt.Sprintf(embedURLFormat, url.PathEscape(b.SourceArchiveID)), nil
}

// Reindex rebuilds and publishes the similarity index now.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	ix, err := s.index.Rebuild(ctx)
	if err != nil {
		return 0, err
	}
	return ix.Dim(), nil
}

// IndexSize is the size of the published index, 0 when none.
func (s *Service) IndexSize() int {
	if ix := s.index.Current(); ix != nil {
		return ix.Dim()
	}
	return 0
}
