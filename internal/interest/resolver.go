package interest

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/folio/internal/catalog"
)

// HistoryLimit is how many recent purchases are read per resolution.
const HistoryLimit = 5

// CachedUsers caps how many user signals a Resolver keeps.
const CachedUsers = 4096

// Store defines the storage reads the Resolver needs. Implemented by
// storage.Store.
type Store interface {
	RecentPurchases(ctx context.Context, userID string, limit int) ([]catalog.Purchase, error)
	OnboardingGenres(ctx context.Context, userID string) ([]string, error)
	SetOnboardingGenres(ctx context.Context, userID string, genres []string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cachedSignal struct {
	signal Signal
	at     time.Time
}

// Resolver turns a user id into a Signal, caching results for the most
// recently seen users.
type Resolver struct {
	store Store
	clock Clock
	ttl   time.Duration
	cache *lru.Cache[string, cachedSignal]
}

// NewResolver creates a Resolver with a 60-second cache TTL.
func NewResolver(store Store) *Resolver {
	return NewResolverWithClock(store, realClock{}, 60*time.Second)
}

// NewResolverWithClock creates a Resolver with a custom clock (for testing).
func NewResolverWithClock(store Store, clock Clock, ttl time.Duration) *Resolver {
	return newResolver(store, clock, ttl, CachedUsers)
}

func newResolver(store Store, clock Clock, ttl time.Duration, size int) *Resolver {
	cache, _ := lru.New[string, cachedSignal](size)
	return &Resolver{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: cache,
	}
}

// Resolve returns the user's signal. Purchases take precedence; a user with
// none falls back to their first onboarding genre, then to bestsellers.
// An empty userID is anonymous and always gets bestsellers.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Signal, error) {
	if userID == "" {
		return Bestsellers(), nil
	}

	if c, ok := r.cache.Get(userID); ok {
		if r.clock.Now().Before(c.at.Add(r.ttl)) {
			return c.signal, nil
		}
		r.cache.Remove(userID)
	}

	history, err := r.store.RecentPurchases(ctx, userID, HistoryLimit)
	if err != nil {
		return Signal{}, fmt.Errorf("loading purchases for %s: %w", userID, err)
	}
	sig := Infer(history)
	if len(history) == 0 {
		genres, err := r.store.OnboardingGenres(ctx, userID)
		if err != nil {
			return Signal{}, fmt.Errorf("loading onboarding genres for %s: %w", userID, err)
		}
		if len(genres) > 0 {
			sig = Category(genres[0])
		}
	}

	r.cache.Add(userID, cachedSignal{signal: sig, at: r.clock.Now()})
	return sig, nil
}

// History returns the user's recent purchases, newest first.
func (r *Resolver) History(ctx context.Context, userID string) ([]catalog.Purchase, error) {
	if userID == "" {
		return nil, nil
	}
	return r.store.RecentPurchases(ctx, userID, HistoryLimit)
}

// SaveOnboarding persists the user's genre picks and drops their cached
// signal.
func (r *Resolver) SaveOnboarding(ctx context.Context, userID string, genres []string) error {
	if err := r.store.SetOnboardingGenres(ctx, userID, genres); err != nil {
		return fmt.Errorf("saving onboarding genres for %s: %w", userID, err)
	}
	r.Invalidate(userID)
	return nil
}

// Invalidate drops the cached signal for userID.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Remove(userID)
}
