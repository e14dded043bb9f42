package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ExternalPrefix tags ids of books that came from the external catalog and
// have not been imported yet.
const ExternalPrefix = "ext_"

// UnknownAuthor is the author sentinel used when a record carries no author.
const UnknownAuthor = "Unknown"

// ID identifies a book. Local books carry a positive integer assigned by the
// store; external books carry an ExternalPrefix-tagged string until imported.
type ID struct {
	Local    int64
	External string
}

// LocalID returns the id of a locally stored book.
func LocalID(n int64) ID { return ID{Local: n} }

// ExternalID returns the tagged id for an external catalog key.
func ExternalID(key string) ID { return ID{External: ExternalPrefix + key} }

// IsExternal reports whether the id refers to a not-yet-imported book.
func (id ID) IsExternal() bool { return id.External != "" }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id.Local == 0 && id.External == "" }

func (id ID) String() string {
	if id.IsExternal() {
		return id.External
	}
	return strconv.FormatInt(id.Local, 10)
}

// ParseID accepts either a decimal local id or an ExternalPrefix-tagged string.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, ExternalPrefix) {
		if len(s) == len(ExternalPrefix) {
			return ID{}, fmt.Errorf("empty external id %q", s)
		}
		return ID{External: s}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return ID{}, fmt.Errorf("invalid book id %q", s)
	}
	return ID{Local: n}, nil
}

// MarshalJSON encodes local ids as numbers and external ids as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsExternal() {
		return json.Marshal(id.External)
	}
	return []byte(strconv.FormatInt(id.Local, 10)), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("book id must be a number or string: %w", err)
	}
	*id = ID{Local: n}
	return nil
}

// Price is an amount in minor currency units (cents).
type Price int64

// PriceFromDecimal converts a decimal amount (2.99) to minor units.
func PriceFromDecimal(f float64) Price {
	return Price(math.Round(f * 100))
}

// String renders the price as X.YY.
func (p Price) String() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("price must be a number: %w", err)
	}
	*p = PriceFromDecimal(f)
	return nil
}

// Book is a catalog item. Values are treated as immutable once loaded.
type Book struct {
	ID              ID      `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	Price           Price   `json:"price"`
	CoverURL        string  `json:"cover_url"`
	Year            int     `json:"year"`
	SourceArchiveID string  `json:"ia_id,omitempty"`
	Rating          float64 `json:"rating,omitempty"`
}

// Soup is the text a book is vectorized from: its category and description.
func (b Book) Soup() string {
	return b.Category + " " + b.Description
}

// Purchase is one entry of a user's purchase history, newest first.
type Purchase struct {
	BookID      int64     `json:"book_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Category    string    `json:"category"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// ErrDuplicateImport is returned by stores when an insert collides with an
// existing row for the same archive id.
var ErrDuplicateImport = errors.New("catalog: book already imported")
