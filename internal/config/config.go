package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	OpenLibrary OpenLibraryConfig
	Feed        FeedConfig
	Recommend   RecommendConfig
	Cache       CacheConfig
}

type ServerConfig struct {
	Port int
	// AdminToken guards /admin routes. Secret: environment only.
	AdminToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OpenLibraryConfig struct {
	BaseURL           string
	Timeout           string
	RequestsPerSecond float64
	BreakerFailures   int
}

type FeedConfig struct {
	RowCount         int
	Genres           string // comma separated
	MaxOffset        int
	RowLimit         int
	RecommendedLimit int
}

type RecommendConfig struct {
	K            int
	FallbackSize int // 0 means k-2
}

type CacheConfig struct {
	RedisAddr string // empty selects the in-memory cache
	TTL       string
	// MaxEntries bounds the in-memory cache.
	MaxEntries int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		OpenLibrary: OpenLibraryConfig{
			BaseURL:           "https://openlibrary.org",
			Timeout:           "5s",
			RequestsPerSecond: 5,
			BreakerFailures:   5,
		},
		Feed: FeedConfig{
			RowCount:         4,
			Genres:           "thriller,romance,history,science fiction,fantasy,biography,horror,business,cooking,art",
			MaxOffset:        50,
			RowLimit:         15,
			RecommendedLimit: 20,
		},
		Recommend: RecommendConfig{
			K: 5,
		},
		Cache: CacheConfig{
			TTL:        "10m",
			MaxEntries: 1024,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/folio/config.json, then applies FOLIO_* environment
// overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if _, err := time.ParseDuration(c.OpenLibrary.Timeout); err != nil {
		return fmt.Errorf("invalid config: openlibrary.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("invalid config: cache.ttl: %w", err)
	}
	if n := len(c.Feed.GenreList()); n < c.Feed.RowCount {
		return fmt.Errorf("invalid config: feed.genres has %d entries, feed.row_count needs %d", n, c.Feed.RowCount)
	}
	return nil
}

// TimeoutDuration is the parsed per-call timeout.
func (c OpenLibraryConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

func (c CacheConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// GenreList splits Genres on commas, dropping blanks.
func (c FeedConfig) GenreList() []string {
	var out []string
	for _, g := range strings.Split(c.Genres, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
