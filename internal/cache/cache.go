// Package cache provides a read-through cache for external catalog searches,
// backed by process memory or Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/metrics"
)

// ErrMiss is returned by stores when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a byte-oriented key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Name() string
}

// DefaultMemoryEntries caps the in-process store when no size is given.
const DefaultMemoryEntries = 1024

// Memory is an in-process Store holding at most a fixed number of entries.
// The least recently used entry is evicted first; expired entries are also
// dropped on read.
type Memory struct {
	entries *lru.Cache[string, memEntry]
	now     func() time.Time
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// NewMemory creates a Memory holding up to DefaultMemoryEntries entries.
func NewMemory() *Memory {
	return NewMemorySize(DefaultMemoryEntries)
}

// NewMemorySize creates a Memory holding up to size entries. Non-positive
// sizes use DefaultMemoryEntries.
func NewMemorySize(size int) *Memory {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	entries, _ := lru.New[string, memEntry](size)
	return &Memory{entries: entries, now: time.Now}
}

func (m *Memory) Name() string { return "memory" }

// Len reports the number of entries held, expired ones included.
func (m *Memory) Len() int { return m.entries.Len() }

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.entries.Remove(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.entries.Add(key, memEntry{value: value, expires: expires})
	return nil
}

// Searcher wraps a catalog.Searcher with a read-through cache. Only
// successful searches are cached; cache failures fall through to the
// wrapped searcher.
type Searcher struct {
	next  catalog.Searcher
	store Store
	ttl   time.Duration
}

func NewSearcher(next catalog.Searcher, store Store, ttl time.Duration) *Searcher {
	return &Searcher{next: next, store: store, ttl: ttl}
}

func (s *Searcher) Search(ctx context.Context, query string, limit, offset int) ([]catalog.ExternalRecord, error) {
	key := searchKey(query, limit, offset)

	raw, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		var recs []catalog.ExternalRecord
		if uerr := json.Unmarshal(raw, &recs); uerr == nil {
			metrics.SearchCache.WithLabelValues("hit").Inc()
			return recs, nil
		}
		metrics.SearchCache.WithLabelValues("error").Inc()
	case errors.Is(err, ErrMiss):
		metrics.SearchCache.WithLabelValues("miss").Inc()
	default:
		metrics.SearchCache.WithLabelValues("error").Inc()
		slog.Debug("search cache read failed", "backend", s.store.Name(), "error", err)
	}

	recs, err := s.next.Search(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	if b, merr := json.Marshal(recs); merr == nil {
		if serr := s.store.Set(ctx, key, b, s.ttl); serr != nil {
			slog.Debug("search cache write failed", "backend", s.store.Name(), "error", serr)
		}
	}
	return recs, nil
}

func searchKey(query string, limit, offset int) string {
	return fmt.Sprintf("folio:search:%s:%s:%s", strconv.Quote(query), strconv.Itoa(limit), strconv.Itoa(offset))
}
