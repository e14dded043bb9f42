package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/feed"
	"github.com/kalambet/folio/internal/interest"
	"github.com/kalambet/folio/internal/similarity"
	"github.com/kalambet/folio/internal/storage"
)

type stubSearcher struct {
	mu      sync.Mutex
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, query string, _, _ int) ([]catalog.ExternalRecord, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return []catalog.ExternalRecord{{
		Key:         "/works/" + query,
		Title:       "About " + query,
		AuthorNames: []string{"Someone"},
		ArchiveIDs:  []string{"ia-" + query},
		CoverID:     9,
		HasFulltext: true,
	}}, nil
}

func newTestService(t *testing.T) (*Service, *storage.Store, *stubSearcher) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, b := range []catalog.Book{
		{Title: "A", Author: "Unknown", Category: "Horror", Description: "ghosts"},
		{Title: "B", Author: "Unknown", Category: "Horror", Description: "ghosts and ghouls", SourceArchiveID: "b-ia"},
		{Title: "C", Author: "Jane Austen", Category: "Romance", Description: "love story"},
	} {
		if _, err := store.InsertBook(context.Background(), b); err != nil {
			t.Fatalf("InsertBook: %v", err)
		}
	}

	search := &stubSearcher{}
	holder := similarity.NewHolder(store.ListBooks)
	svc := NewService(
		store,
		holder,
		interest.NewResolver(store),
		feed.NewComposer(search, feed.Options{Seed: 1}),
		catalog.NewImporter(store, store),
		search,
		Config{Genres: []string{"horror", "art"}, RowCount: 2},
	)
	return svc, store, search
}

func TestSimilar_IndexNotReady(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Similar(context.Background(), "A", 2); !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("err = %v, want ErrIndexNotReady", err)
	}
}

func TestSimilar_AfterReindex(t *testing.T) {
	svc, _, _ := newTestService(t)
	n, err := svc.Reindex(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Reindex = %d, %v", n, err)
	}
	got, err := svc.Similar(context.Background(), "A", 2)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 2 || got[0].Title != "B" || got[1].Title != "C" {
		t.Errorf("Similar(A, 2) = %+v", got)
	}
	if svc.IndexSize() != 3 {
		t.Errorf("IndexSize = %d, want 3", svc.IndexSize())
	}
}

func TestPurchase_ExternalImportsOnceAndPersonalizes(t *testing.T) {
	svc, store, search := newTestService(t)
	ctx := context.Background()

	ext := svc.SearchExternal(ctx, "dracula")
	if len(ext) != 1 || !ext[0].ID.IsExternal() {
		t.Fatalf("SearchExternal = %+v", ext)
	}

	res, err := svc.Purchase(ctx, "u1", ext[0])
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if !res.Added || res.BookID == 0 {
		t.Errorf("result = %+v", res)
	}

	again, err := svc.Purchase(ctx, "u1", ext[0])
	if err != nil {
		t.Fatalf("second Purchase: %v", err)
	}
	if again.Added || again.BookID != res.BookID {
		t.Errorf("second result = %+v, want same id and Added=false", again)
	}

	n, _ := store.CountBooks(ctx)
	if n != 4 {
		t.Errorf("books = %d, want 4", n)
	}

	f, err := svc.Feed(ctx, "u1")
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if f.Rows[0].Label != "Recommended (Because you read Someone)" {
		t.Errorf("first row = %q", f.Rows[0].Label)
	}
	search.mu.Lock()
	defer search.mu.Unlock()
	found := false
	for _, q := range search.queries {
		if q == "author:Someone" {
			found = true
		}
	}
	if !found {
		t.Errorf("recommended query not issued: %v", search.queries)
	}
}

func TestPurchase_LocalBook(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Purchase(context.Background(), "u1", catalog.Book{ID: catalog.LocalID(3)})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if res.BookID != 3 || !res.Added {
		t.Errorf("result = %+v", res)
	}
	lib, err := svc.Library(context.Background(), "u1")
	if err != nil || len(lib) != 1 || lib[0].Book.Title != "C" {
		t.Errorf("Library = %+v, %v", lib, err)
	}
}

func TestPurchase_RequiresUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Purchase(context.Background(), "", catalog.Book{ID: catalog.LocalID(1)}); !errors.Is(err, ErrMissingUser) {
		t.Errorf("err = %v, want ErrMissingUser", err)
	}
}

func TestFeed_OnboardingDrivesRecommendedRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Onboard(ctx, "u2", []string{"art", "cooking"}); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	f, err := svc.Feed(ctx, "u2")
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if f.Rows[0].Label != "Recommended (Because you read art)" {
		t.Errorf("first row = %q", f.Rows[0].Label)
	}
	if len(f.Rows) != 3 {
		t.Errorf("rows = %v, want 3", f.Labels())
	}
}

func TestFeed_InsufficientGenres(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.RowCount = 5
	if _, err := svc.Feed(context.Background(), ""); !errors.Is(err, feed.ErrInsufficientGenrePool) {
		t.Errorf("err = %v, want ErrInsufficientGenrePool", err)
	}
}

func TestReadURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	b, u, err := svc.ReadURL(ctx, 2)
	if err != nil {
		t.Fatalf("ReadURL: %v", err)
	}
	if b.Title != "B" {
		t.Errorf("book title = %q, want B", b.Title)
	}
	if u != "https://archive.org/embed/b-ia?ui=embed&wrapper=false" {
		t.Errorf("ReadURL = %q", u)
	}
	if _, _, err := svc.ReadURL(ctx, 1); !errors.Is(err, ErrNotReadable) {
		t.Errorf("err = %v, want ErrNotReadable", err)
	}
	if _, _, err := svc.ReadURL(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchExternal_BlankQuery(t *testing.T) {
	svc, _, search := newTestService(t)
	if got := svc.SearchExternal(context.Background(), "   "); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	for _, q := range search.queries {
		if strings.TrimSpace(q) == "" {
			t.Error("blank query reached the searcher")
		}
	}
}
