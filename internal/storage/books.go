package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/folio/internal/catalog"
)

const bookColumns = `id, title, author, category, description, price_cents, cover_url, year, ia_id, rating`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(r rowScanner) (catalog.Book, error) {
	var (
		b     catalog.Book
		id    int64
		price int64
		iaID  sql.NullString
	)
	if err := r.Scan(&id, &b.Title, &b.Author, &b.Category, &b.Description, &price, &b.CoverURL, &b.Year, &iaID, &b.Rating); err != nil {
		return catalog.Book{}, err
	}
	b.ID = catalog.LocalID(id)
	b.Price = catalog.Price(price)
	b.SourceArchiveID = iaID.String
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- Books ---

// ListBooks returns the whole local catalog in catalog order (ascending id).
func (s *Store) ListBooks(ctx context.Context) ([]catalog.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []catalog.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (s *Store) GetBook(ctx context.Context, id int64) (catalog.Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Book{}, ErrNotFound
	}
	return b, err
}

// FindBookByArchiveID looks a book up by its archive identifier.
func (s *Store) FindBookByArchiveID(ctx context.Context, archiveID string) (catalog.Book, bool, error) {
	if archiveID == "" {
		return catalog.Book{}, false, nil
	}
	b, err := scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE ia_id = ?`, archiveID))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Book{}, false, nil
	}
	if err != nil {
		return catalog.Book{}, false, err
	}
	return b, true, nil
}

// InsertBook stores b and returns its new local id. A second book with the
// same archive id fails with ErrDuplicate.
func (s *Store) InsertBook(ctx context.Context, b catalog.Book) (int64, error) {
	return insertBook(ctx, s.db, b)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertBook(ctx context.Context, db execer, b catalog.Book) (int64, error) {
	author := b.Author
	if author == "" {
		author = catalog.UnknownAuthor
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO books (title, author, category, description, price_cents, cover_url, year, ia_id, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title, author, b.Category, b.Description, int64(b.Price), b.CoverURL, b.Year,
		nullString(b.SourceArchiveID), b.Rating, time.Now().UTC().Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("book %q (ia_id %s): %w", b.Title, b.SourceArchiveID, ErrDuplicate)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertBooks loads a batch of books in one transaction. Books whose archive
// id is already present are skipped; the number inserted is returned.
func (s *Store) InsertBooks(ctx context.Context, books []catalog.Book) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, b := range books {
		_, err := insertBook(ctx, tx, b)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("inserting %q: %w", b.Title, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing load: %w", err)
	}
	return inserted, nil
}

func (s *Store) CountBooks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n)
	return n, err
}

// --- Purchases ---

// RecordPurchase adds bookID to the user's library. It reports false when the
// user already owns the book.
func (s *Store) RecordPurchase(ctx context.Context, userID string, bookID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (user_id, book_id, purchased_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, book_id) DO NOTHING`,
		userID, bookID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecentPurchases returns up to limit of the user's purchases, newest first.
func (s *Store) RecentPurchases(ctx context.Context, userID string, limit int) ([]catalog.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.book_id, b.title, b.author, b.category, p.purchased_at
		FROM purchases p JOIN books b ON b.id = p.book_id
		WHERE p.user_id = ?
		ORDER BY p.id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []catalog.Purchase
	for rows.Next() {
		var p catalog.Purchase
		var purchasedAt string
		if err := rows.Scan(&p.BookID, &p.Title, &p.Author, &p.Category, &purchasedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, purchasedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing purchased_at: %w", err)
		}
		p.PurchasedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}

// Library returns every book the user owns, newest purchase first.
func (s *Store) Library(ctx context.Context, userID string) ([]LibraryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.author, b.category, b.description, b.price_cents, b.cover_url, b.year, b.ia_id, b.rating, p.purchased_at
		FROM purchases p JOIN books b ON b.id = p.book_id
		WHERE p.user_id = ?
		ORDER BY p.id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LibraryEntry
	for rows.Next() {
		var (
			e           LibraryEntry
			id, price   int64
			iaID        sql.NullString
			purchasedAt string
		)
		b := &e.Book
		if err := rows.Scan(&id, &b.Title, &b.Author, &b.Category, &b.Description, &price, &b.CoverURL, &b.Year, &iaID, &b.Rating, &purchasedAt); err != nil {
			return nil, err
		}
		b.ID = catalog.LocalID(id)
		b.Price = catalog.Price(price)
		b.SourceArchiveID = iaID.String
		if e.PurchasedAt, err = time.Parse(time.RFC3339Nano, purchasedAt); err != nil {
			return nil, fmt.Errorf("parsing purchased_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Onboarding ---

// SetOnboardingGenres replaces the user's genre picks, keeping their order.
func (s *Store) SetOnboardingGenres(ctx context.Context, userID string, genres []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning onboarding transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM onboarding_genres WHERE user_id = ?`, userID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	pos := 0
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO onboarding_genres (user_id, position, genre, updated_at) VALUES (?, ?, ?, ?)`,
			userID, pos, g, now,
		); err != nil {
			return err
		}
		pos++
	}
	return tx.Commit()
}

func (s *Store) OnboardingGenres(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT genre FROM onboarding_genres WHERE user_id = ? ORDER BY position ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var genres []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}
