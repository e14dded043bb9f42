package feed

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/interest"
)

type call struct {
	query         string
	limit, offset int
}

// scriptedSearcher returns one usable record per query unless the query is
// listed in empty or failing.
type scriptedSearcher struct {
	mu      sync.Mutex
	calls   []call
	empty   map[string]bool
	failing map[string]bool
}

func (s *scriptedSearcher) Search(_ context.Context, query string, limit, offset int) ([]catalog.ExternalRecord, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{query, limit, offset})
	s.mu.Unlock()
	if s.failing[query] {
		return nil, fmt.Errorf("%w: boom", catalog.ErrExternalService)
	}
	if s.empty[query] {
		return nil, nil
	}
	return []catalog.ExternalRecord{{
		Key:         "/works/" + query,
		Title:       "Book about " + query,
		ArchiveIDs:  []string{"ia-" + query},
		CoverID:     1,
		HasFulltext: true,
	}}, nil
}

func (s *scriptedSearcher) callFor(query string) (call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.query == query {
			return c, true
		}
	}
	return call{}, false
}

func TestCompose_RecommendedRowFirst(t *testing.T) {
	s := &scriptedSearcher{}
	c := NewComposer(s, Options{Seed: 1})
	history := []catalog.Purchase{{Author: "Bram Stoker", Category: "Horror"}}

	f, err := c.Compose(context.Background(), history, DefaultGenres, 4)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(f.Rows) != 5 {
		t.Fatalf("rows = %d, want 5: %v", len(f.Rows), f.Labels())
	}
	if f.Rows[0].Label != "Recommended (Because you read Bram Stoker)" {
		t.Errorf("first label = %q", f.Rows[0].Label)
	}
	rc, ok := s.callFor("author:Bram Stoker")
	if !ok {
		t.Fatal("recommended query not issued")
	}
	if rc.limit != 20 || rc.offset != 0 {
		t.Errorf("recommended call = %+v, want limit 20 offset 0", rc)
	}
}

func TestCompose_GenreRowCalls(t *testing.T) {
	s := &scriptedSearcher{}
	c := NewComposer(s, Options{Seed: 7})

	f, err := c.Compose(context.Background(), nil, DefaultGenres, 4)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if f.Rows[0].Label != "Recommended (Because you read bestsellers)" {
		t.Errorf("first label = %q", f.Rows[0].Label)
	}
	for _, r := range f.Rows[1:] {
		genre := strings.ToLower(r.Label)
		gc, ok := s.callFor("subject:" + genre)
		if !ok {
			t.Errorf("no search issued for row %q", r.Label)
			continue
		}
		if gc.limit != 15 {
			t.Errorf("%s limit = %d, want 15", genre, gc.limit)
		}
		if gc.offset < 0 || gc.offset > 50 {
			t.Errorf("%s offset = %d, want within [0,50]", genre, gc.offset)
		}
		if r.Books[0].Category != catalog.SubjectLabel("subject:"+genre) {
			t.Errorf("row %q book category = %q", r.Label, r.Books[0].Category)
		}
	}
}

func TestCompose_EmptyAndFailingRowsOmitted(t *testing.T) {
	pool := []string{"horror", "art", "cooking"}
	s := &scriptedSearcher{
		empty:   map[string]bool{"bestsellers": true, "subject:art": true},
		failing: map[string]bool{"subject:cooking": true},
	}
	c := NewComposer(s, Options{Seed: 3})

	f, err := c.Compose(context.Background(), nil, pool, 3)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if want := []string{"Horror"}; !reflect.DeepEqual(f.Labels(), want) {
		t.Errorf("labels = %v, want %v", f.Labels(), want)
	}
}

func TestCompose_InsufficientPool(t *testing.T) {
	c := NewComposer(&scriptedSearcher{}, Options{Seed: 1})
	_, err := c.Compose(context.Background(), nil, []string{"horror", "art", "Horror"}, 3)
	if !errors.Is(err, ErrInsufficientGenrePool) {
		t.Errorf("err = %v, want ErrInsufficientGenrePool", err)
	}
}

func TestChooseGenres_ExactPoolUsesEachOnce(t *testing.T) {
	pool := []string{"horror", "art", "cooking", "history"}
	c := NewComposer(&scriptedSearcher{}, Options{})
	for i := 0; i < 50; i++ {
		got, err := c.ChooseGenres(pool, len(pool))
		if err != nil {
			t.Fatalf("ChooseGenres: %v", err)
		}
		sorted := append([]string(nil), got...)
		sort.Strings(sorted)
		want := append([]string(nil), pool...)
		sort.Strings(want)
		if !reflect.DeepEqual(sorted, want) {
			t.Fatalf("ChooseGenres = %v, want a permutation of %v", got, pool)
		}
	}
}

func TestChooseGenres_DoesNotMutatePool(t *testing.T) {
	pool := []string{"a1", "b2", "c3", "d4", "e5"}
	orig := append([]string(nil), pool...)
	c := NewComposer(&scriptedSearcher{}, Options{Seed: 9})
	if _, err := c.ChooseGenres(pool, 3); err != nil {
		t.Fatalf("ChooseGenres: %v", err)
	}
	if !reflect.DeepEqual(pool, orig) {
		t.Errorf("pool mutated: %v", pool)
	}
}

func TestChooseGenres_SeedReproducible(t *testing.T) {
	a := NewComposer(&scriptedSearcher{}, Options{Seed: 42})
	b := NewComposer(&scriptedSearcher{}, Options{Seed: 42})
	for i := 0; i < 5; i++ {
		ga, _ := a.ChooseGenres(DefaultGenres, 4)
		gb, _ := b.ChooseGenres(DefaultGenres, 4)
		if !reflect.DeepEqual(ga, gb) {
			t.Fatalf("same seed diverged: %v vs %v", ga, gb)
		}
	}
}

func TestCompose_ZeroRowCountUsesDefault(t *testing.T) {
	c := NewComposer(&scriptedSearcher{}, Options{Seed: 5})
	f, err := c.ComposeForSignal(context.Background(), interest.Category("Horror"), DefaultGenres, 0)
	if err != nil {
		t.Fatalf("ComposeForSignal: %v", err)
	}
	if len(f.Rows) != 1+DefaultRowCount {
		t.Errorf("rows = %d, want %d", len(f.Rows), 1+DefaultRowCount)
	}
	if f.Rows[0].Label != "Recommended (Because you read Horror)" {
		t.Errorf("label = %q", f.Rows[0].Label)
	}
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"science fiction": "Science Fiction",
		"horror":          "Horror",
		"  art  ":         "Art",
		"BUSINESS":        "Business",
	}
	for in, want := range tests {
		if got := TitleCase(in); got != want {
			t.Errorf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFeed_JSONKeepsOrder(t *testing.T) {
	f := Feed{Rows: []Row{
		{Label: "Zeta", Books: []catalog.Book{{ID: catalog.ExternalID("/works/1"), Title: "Z"}}},
		{Label: "Alpha", Books: []catalog.Book{{ID: catalog.LocalID(2), Title: "A"}}},
	}}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if zi, ai := strings.Index(string(b), `"Zeta"`), strings.Index(string(b), `"Alpha"`); zi < 0 || ai < 0 || zi > ai {
		t.Errorf("row order lost: %s", b)
	}

	var back Feed
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.Labels(), []string{"Zeta", "Alpha"}) {
		t.Errorf("labels = %v", back.Labels())
	}
	if back.Rows[0].Books[0].ID.External != "ext_/works/1" {
		t.Errorf("external id = %v", back.Rows[0].Books[0].ID)
	}
}

func TestFeed_EmptyEncodesAsObject(t *testing.T) {
	b, err := json.Marshal(Feed{})
	if err != nil || string(b) != "{}" {
		t.Errorf("Marshal(empty) = %s, %v", b, err)
	}
}
