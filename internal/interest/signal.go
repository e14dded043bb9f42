// Package interest infers what a user is likely to want next from their
// recent purchases and onboarding picks.
package interest

import (
	"strings"

	"github.com/kalambet/folio/internal/catalog"
)

const (
	authorPrefix = "author:"
	bestsellers  = "bestsellers"
)

// Signal is the query form of a user's interest: "author:<name>", a bare
// category, or "bestsellers" when nothing is known.
type Signal struct {
	query string
}

// Bestsellers is the signal used when no history is available.
func Bestsellers() Signal { return Signal{query: bestsellers} }

func Author(name string) Signal { return Signal{query: authorPrefix + name} }

func Category(c string) Signal { return Signal{query: c} }

// String returns the external search query.
func (s Signal) String() string {
	if s.query == "" {
		return bestsellers
	}
	return s.query
}

// Label is the signal without the author prefix, for display.
func (s Signal) Label() string {
	return strings.TrimPrefix(s.String(), authorPrefix)
}

// IsBestsellers reports whether the signal carries no user information.
func (s Signal) IsBestsellers() bool { return s.String() == bestsellers }

// Infer looks only at the most recent purchase (history[0]). A known author
// wins over the category.
func Infer(history []catalog.Purchase) Signal {
	if len(history) == 0 {
		return Bestsellers()
	}
	last := history[0]
	if last.Author != "" && last.Author != catalog.UnknownAuthor {
		return Author(last.Author)
	}
	if last.Category == "" {
		return Bestsellers()
	}
	return Category(last.Category)
}
