// Package feed composes the personalized home feed: one recommended row
// driven by the user's interest signal followed by random genre rows.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/interest"
	"github.com/kalambet/folio/internal/metrics"
)

// ErrInsufficientGenrePool means the configured genre pool cannot fill the
// requested number of rows.
var ErrInsufficientGenrePool = errors.New("feed: genre pool smaller than row count")

// DefaultGenres is the discovery genre pool.
var DefaultGenres = []string{
	"thriller", "romance", "history", "science fiction", "fantasy",
	"biography", "horror", "business", "cooking", "art",
}

const (
	DefaultRowCount         = 4
	DefaultRowLimit         = 15
	DefaultRecommendedLimit = 20
	DefaultMaxOffset        = 50
	DefaultCallTimeout      = 5 * time.Second
)

// Options configures a Composer. Zero values take defaults.
type Options struct {
	RowLimit         int
	RecommendedLimit int
	MaxOffset        int // negative pins every genre row to offset 0
	CallTimeout      time.Duration
	// Seed fixes genre and offset selection. Zero seeds from the clock.
	Seed uint64
}

// Composer builds feeds from an external catalog. Safe for concurrent use.
type Composer struct {
	searcher catalog.Searcher
	opts     Options

	mu  sync.Mutex
	rng *rand.Rand
}

func NewComposer(searcher catalog.Searcher, opts Options) *Composer {
	if opts.RowLimit <= 0 {
		opts.RowLimit = DefaultRowLimit
	}
	if opts.RecommendedLimit <= 0 {
		opts.RecommendedLimit = DefaultRecommendedLimit
	}
	if opts.MaxOffset < 0 {
		opts.MaxOffset = 0
	} else if opts.MaxOffset == 0 {
		opts.MaxOffset = DefaultMaxOffset
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Composer{
		searcher: searcher,
		opts:     opts,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// RecommendedLabel is the label of the personalized row.
func RecommendedLabel(sig interest.Signal) string {
	return fmt.Sprintf("Recommended (Because you read %s)", sig.Label())
}

// Compose infers the signal from history and builds the feed.
func (c *Composer) Compose(ctx context.Context, history []catalog.Purchase, pool []string, rowCount int) (Feed, error) {
	return c.ComposeForSignal(ctx, interest.Infer(history), pool, rowCount)
}

// ComposeForSignal builds the feed for an already resolved signal. Only a
// genre pool that cannot fill rowCount rows is an error; external failures
// drop the affected row.
func (c *Composer) ComposeForSignal(ctx context.Context, sig interest.Signal, pool []string, rowCount int) (Feed, error) {
	if rowCount <= 0 {
		rowCount = DefaultRowCount
	}
	genres, offsets, err := c.pick(pool, rowCount)
	if err != nil {
		return Feed{}, err
	}

	// Slot 0 is the recommended row; genre rows follow in selection order.
	slots := make([]Row, len(genres)+1)
	var g errgroup.Group
	g.Go(func() error {
		books := c.lookup(ctx, sig.String(), c.opts.RecommendedLimit, 0)
		slots[0] = Row{Label: RecommendedLabel(sig), Books: books}
		return nil
	})
	for i, genre := range genres {
		g.Go(func() error {
			books := c.lookup(ctx, catalog.SubjectPrefix+genre, c.opts.RowLimit, offsets[i])
			slots[i+1] = Row{Label: TitleCase(genre), Books: books}
			return nil
		})
	}
	_ = g.Wait()

	var f Feed
	for _, r := range slots {
		if len(r.Books) == 0 {
			metrics.FeedRowsOmitted.Inc()
			continue
		}
		f.Rows = append(f.Rows, r)
	}
	metrics.FeedRows.Observe(float64(len(f.Rows)))
	return f, nil
}

func (c *Composer) lookup(ctx context.Context, query string, limit, offset int) []catalog.Book {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return catalog.Lookup(ctx, c.searcher, query, limit, offset)
}

// pick draws the genres and their offsets under one lock so a seeded
// Composer is reproducible.
func (c *Composer) pick(pool []string, n int) ([]string, []int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	genres, err := chooseGenres(c.rng, pool, n)
	if err != nil {
		return nil, nil, err
	}
	offsets := make([]int, len(genres))
	for i := range offsets {
		offsets[i] = c.rng.IntN(c.opts.MaxOffset + 1)
	}
	return genres, offsets, nil
}

// ChooseGenres selects n distinct genres from pool without replacement.
func (c *Composer) ChooseGenres(pool []string, n int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chooseGenres(c.rng, pool, n)
}

func chooseGenres(rng *rand.Rand, pool []string, n int) ([]string, error) {
	uniq := dedupe(pool)
	if len(uniq) < n {
		return nil, fmt.Errorf("%w: have %d genres, need %d", ErrInsufficientGenrePool, len(uniq), n)
	}
	// Partial Fisher-Yates: the first n positions end up a uniform sample.
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(uniq)-i)
		uniq[i], uniq[j] = uniq[j], uniq[i]
	}
	return uniq[:n], nil
}

func dedupe(pool []string) []string {
	seen := make(map[string]struct{}, len(pool))
	out := make([]string, 0, len(pool))
	for _, g := range pool {
		g = strings.TrimSpace(g)
		key := strings.ToLower(g)
		if g == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	return out
}

// TitleCase upper-cases the first letter of each word and lower-cases the
// rest ("science fiction" -> "Science Fiction").
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
