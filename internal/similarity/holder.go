package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/metrics"
)

// Loader returns a full snapshot of the local catalog in catalog order.
type Loader func(ctx context.Context) ([]catalog.Book, error)

// Holder publishes the current Index. Readers never observe a partially
// built index; a rebuild swaps the pointer only after Build succeeds.
type Holder struct {
	load    Loader
	current atomic.Pointer[Index]
	group   singleflight.Group
}

func NewHolder(load Loader) *Holder {
	return &Holder{load: load}
}

// Current returns the published index, or nil before the first successful
// rebuild.
func (h *Holder) Current() *Index {
	return h.current.Load()
}

// Publish swaps ix in directly.
func (h *Holder) Publish(ix *Index) {
	h.current.Store(ix)
	metrics.IndexSize.Set(float64(ix.Dim()))
}

// Rebuild loads a catalog snapshot, builds a new index and publishes it.
// Concurrent calls share one build. On failure the previous index stays
// published.
func (h *Holder) Rebuild(ctx context.Context) (*Index, error) {
	v, err, shared := h.group.Do("rebuild", func() (any, error) {
		start := time.Now()
		books, err := h.load(ctx)
		if err != nil {
			metrics.IndexBuilds.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		ix, err := Build(books)
		if err != nil {
			metrics.IndexBuilds.WithLabelValues("error").Inc()
			return nil, err
		}
		h.Publish(ix)
		metrics.IndexBuilds.WithLabelValues("ok").Inc()
		metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
		slog.Info("similarity index published", "books", ix.Dim(), "terms", ix.Vocabulary(), "took", time.Since(start))
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("similarity rebuild shared with concurrent caller")
	}
	return v.(*Index), nil
}
