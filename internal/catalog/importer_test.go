package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// memStore is an in-memory ImportStore with a unique archive id constraint.
type memStore struct {
	mu     sync.Mutex
	rows   map[string]Book
	nextID int64

	// hideOnce makes the first lookup miss, simulating a concurrent insert
	// that lands between the check and the insert.
	hideOnce bool
	inserts  int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]Book)}
}

func (m *memStore) FindBookByArchiveID(_ context.Context, archiveID string) (Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOnce {
		m.hideOnce = false
		return Book{}, false, nil
	}
	b, ok := m.rows[archiveID]
	return b, ok, nil
}

func (m *memStore) InsertBook(_ context.Context, b Book) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if _, ok := m.rows[b.SourceArchiveID]; ok {
		return 0, fmt.Errorf("insert: %w", ErrDuplicateImport)
	}
	m.nextID++
	b.ID = LocalID(m.nextID)
	m.rows[b.SourceArchiveID] = b
	return m.nextID, nil
}

type countingReindexer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReindexer) RequestReindex(context.Context) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil
}

func externalBook() Book {
	return FromExternal(usableRecord("/works/OL345W", "Dracula"), "subject:horror")
}

func TestImport_Idempotent(t *testing.T) {
	store := newMemStore()
	re := &countingReindexer{}
	im := NewImporter(store, re)
	ctx := context.Background()

	id1, err := im.Import(ctx, externalBook())
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	id2, err := im.Import(ctx, externalBook())
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}

	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}
	if len(store.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(store.rows))
	}
	if re.calls != 1 {
		t.Errorf("reindex requests = %d, want 1", re.calls)
	}
}

func TestImport_DuplicateKeyReadsExisting(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil)
	ctx := context.Background()

	want, err := im.Import(ctx, externalBook())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	store.hideOnce = true
	got, err := im.Import(ctx, externalBook())
	if err != nil {
		t.Fatalf("Import after race: %v", err)
	}
	if got != want {
		t.Errorf("id = %d, want %d", got, want)
	}
	if store.inserts != 2 {
		t.Errorf("inserts attempted = %d, want 2", store.inserts)
	}
	if len(store.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(store.rows))
	}
}

func TestImport_Concurrent(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil)

	const n = 16
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := im.Import(context.Background(), externalBook())
			if err != nil {
				t.Errorf("Import: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("import %d returned %d, want %d", i, ids[i], ids[0])
		}
	}
	if len(store.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(store.rows))
	}
}

func TestImport_LocalBookPassesThrough(t *testing.T) {
	im := NewImporter(newMemStore(), nil)
	id, err := im.Import(context.Background(), Book{ID: LocalID(9), Title: "Dracula"})
	if err != nil || id != 9 {
		t.Errorf("Import(local) = %d, %v; want 9, nil", id, err)
	}
}

func TestImport_MissingArchiveID(t *testing.T) {
	im := NewImporter(newMemStore(), nil)
	b := externalBook()
	b.SourceArchiveID = ""
	if _, err := im.Import(context.Background(), b); err != ErrMissingArchiveID {
		t.Errorf("err = %v, want ErrMissingArchiveID", err)
	}
}

func TestImportedRow_KeepsSubjectCategory(t *testing.T) {
	row := importedRow(externalBook())
	if row.Category != "Horror" {
		t.Errorf("Category = %q, want Horror", row.Category)
	}
	if row.Rating != importedRating {
		t.Errorf("Rating = %v, want %v", row.Rating, importedRating)
	}
	if !row.ID.IsZero() {
		t.Errorf("ID should be cleared before insert, got %v", row.ID)
	}

	bare := externalBook()
	bare.Category = ""
	if got := importedRow(bare).Category; got != importedCategory {
		t.Errorf("Category = %q, want %q", got, importedCategory)
	}
}

func TestImport_IgnoresClientPrice(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil)

	b := externalBook()
	b.Price = 1
	if _, err := im.Import(context.Background(), b); err != nil {
		t.Fatalf("Import: %v", err)
	}

	stored := store.rows[b.SourceArchiveID]
	if want := PriceForTitle("Dracula"); stored.Price != want {
		t.Errorf("imported price = %s, want %s", stored.Price, want)
	}
}
