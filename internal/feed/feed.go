package feed

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kalambet/folio/internal/catalog"
)

// Row is one labelled shelf of books.
type Row struct {
	Label string
	Books []catalog.Book
}

// Feed is an ordered list of rows. It encodes as a JSON object whose keys
// keep row order.
type Feed struct {
	Rows []Row
}

// Labels returns row labels in order.
func (f Feed) Labels() []string {
	out := make([]string, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r.Label
	}
	return out
}

// Row returns the row with the given label.
func (f Feed) Row(label string) (Row, bool) {
	for _, r := range f.Rows {
		if r.Label == label {
			return r, true
		}
	}
	return Row{}, false
}

func (f Feed) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range f.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(r.Label)
		if err != nil {
			return nil, err
		}
		books := r.Books
		if books == nil {
			books = []catalog.Book{}
		}
		v, err := json.Marshal(books)
		if err != nil {
			return nil, fmt.Errorf("encoding row %q: %w", r.Label, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Feed) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("feed: expected object, got %v", tok)
	}
	var rows []Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("feed: expected row label, got %v", tok)
		}
		var books []catalog.Book
		if err := dec.Decode(&books); err != nil {
			return fmt.Errorf("feed: decoding row %q: %w", label, err)
		}
		rows = append(rows, Row{Label: label, Books: books})
	}
	f.Rows = rows
	return nil
}
