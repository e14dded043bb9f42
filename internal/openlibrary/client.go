// Package openlibrary searches the Open Library catalog for full-text books.
package openlibrary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/metrics"
)

const (
	DefaultBaseURL = "https://openlibrary.org"
	DefaultTimeout = 5 * time.Second

	breakerName = "openlibrary"
)

// ErrStatus is returned for non-200 responses.
var ErrStatus = errors.New("openlibrary: unexpected status")

// Options configures a Client. Zero values take defaults.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables client-side rate limiting
	BreakerFailures   uint32  // consecutive failures before the breaker opens
	HTTPClient        *http.Client
}

// Client talks to the Open Library search API. It implements catalog.Searcher.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]catalog.ExternalRecord]
}

// New creates a Client from opts.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return &Client{
		baseURL:    base,
		timeout:    timeout,
		httpClient: hc,
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    newBreaker(failures),
	}
}

func newBreaker(failures uint32) *gobreaker.CircuitBreaker[[]catalog.ExternalRecord] {
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker[[]catalog.ExternalRecord](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Callers giving up is not a remote failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// searchResponse mirrors GET /search.json.
type searchResponse struct {
	NumFound int                      `json:"numFound"`
	Docs     []catalog.ExternalRecord `json:"docs"`
}

// Search runs query against /search.json restricted to English full-text
// books. Every failure wraps catalog.ErrExternalService.
func (c *Client) Search(ctx context.Context, query string, limit, offset int) ([]catalog.ExternalRecord, error) {
	start := time.Now()
	defer func() { metrics.ExternalSearchDuration.Observe(time.Since(start).Seconds()) }()

	recs, err := c.breaker.Execute(func() ([]catalog.ExternalRecord, error) {
		return c.search(ctx, query, limit, offset)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ExternalSearches.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", catalog.ErrExternalService, err)
	case err != nil:
		metrics.ExternalSearches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", catalog.ErrExternalService, err)
	}
	metrics.ExternalSearches.WithLabelValues("ok").Inc()
	return recs, nil
}

func (c *Client) search(ctx context.Context, query string, limit, offset int) ([]catalog.ExternalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(query, limit, offset), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w %d for %q", ErrStatus, resp.StatusCode, query)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return body.Docs, nil
}

func (c *Client) searchURL(query string, limit, offset int) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("language", "eng")
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa(offset))
	v.Set("has_fulltext", "true")
	return c.baseURL + "/search.json?" + v.Encode()
}

// BreakerState reports the breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
