package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/folio/internal/catalog"
)

// seedBook is one catalog entry in a seed file. JSON seed files parse too,
// since YAML is a superset.
type seedBook struct {
	Title       string  `yaml:"title"`
	Author      string  `yaml:"author"`
	Category    string  `yaml:"category"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	CoverURL    string  `yaml:"cover_url"`
	Year        int     `yaml:"year"`
	ArchiveID   string  `yaml:"ia_id"`
	Rating      float64 `yaml:"rating"`
}

type seedFile struct {
	Books []seedBook `yaml:"books"`
}

// parseSeed accepts either a top-level list of books or a mapping with a
// "books" list.
func parseSeed(data []byte) ([]catalog.Book, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("seed file is empty")
	}

	var entries []seedBook
	switch root := doc.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("decoding books: %w", err)
		}
	case yaml.MappingNode:
		var f seedFile
		if err := root.Decode(&f); err != nil {
			return nil, fmt.Errorf("decoding books: %w", err)
		}
		entries = f.Books
	default:
		return nil, errors.New("seed file must be a list of books or a mapping with a books list")
	}

	books := make([]catalog.Book, 0, len(entries))
	for i, e := range entries {
		b, err := e.book()
		if err != nil {
			return nil, fmt.Errorf("book %d: %w", i+1, err)
		}
		books = append(books, b)
	}
	return books, nil
}

func (e seedBook) book() (catalog.Book, error) {
	b := catalog.Book{
		Title:           strings.TrimSpace(e.Title),
		Author:          strings.TrimSpace(e.Author),
		Category:        strings.TrimSpace(e.Category),
		Description:     strings.TrimSpace(e.Description),
		Price:           catalog.PriceFromDecimal(e.Price),
		CoverURL:        e.CoverURL,
		Year:            e.Year,
		SourceArchiveID: strings.TrimSpace(e.ArchiveID),
		Rating:          e.Rating,
	}
	switch {
	case b.Title == "":
		return b, errors.New("title is required")
	case b.Category == "":
		return b, fmt.Errorf("%q: category is required", b.Title)
	case b.Description == "":
		return b, fmt.Errorf("%q: description is required", b.Title)
	}
	if b.Author == "" {
		b.Author = catalog.UnknownAuthor
	}
	if b.Price == 0 {
		b.Price = catalog.PriceForTitle(b.Title)
	}
	return b, nil
}

// CatalogLoader is the part of the store a seed load needs.
type CatalogLoader interface {
	InsertBooks(ctx context.Context, books []catalog.Book) (int, error)
	RequestReindex(ctx context.Context) error
}

// loadSeed inserts the books from path and asks for a reindex when anything
// was added. Books whose archive id is already present are skipped.
func loadSeed(ctx context.Context, store CatalogLoader, path string) (inserted, total int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("reading seed file: %w", err)
	}
	books, err := parseSeed(data)
	if err != nil {
		return 0, 0, err
	}
	inserted, err = store.InsertBooks(ctx, books)
	if err != nil {
		return 0, len(books), fmt.Errorf("inserting books: %w", err)
	}
	if inserted > 0 {
		if err := store.RequestReindex(ctx); err != nil {
			return inserted, len(books), fmt.Errorf("requesting reindex: %w", err)
		}
	}
	return inserted, len(books), nil
}
