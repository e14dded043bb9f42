package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FOLIO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.admin_token", typ: kString, env: "FOLIO_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FOLIO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "FOLIO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "openlibrary.base_url", typ: kString, env: "FOLIO_OPENLIBRARY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenLibrary.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenLibrary.BaseURL },
	},
	{
		key: "openlibrary.timeout", typ: kString, env: "FOLIO_OPENLIBRARY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.OpenLibrary.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenLibrary.Timeout },
	},
	{
		key: "openlibrary.requests_per_second", typ: kFloat, env: "FOLIO_OPENLIBRARY_RPS",
		apply:   func(cfg *Config, v any) { cfg.OpenLibrary.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenLibrary.RequestsPerSecond },
	},
	{
		key: "openlibrary.breaker_failures", typ: kInt, env: "FOLIO_OPENLIBRARY_BREAKER_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.OpenLibrary.BreakerFailures = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenLibrary.BreakerFailures },
	},
	{
		key: "feed.row_count", typ: kInt, env: "FOLIO_FEED_ROW_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Feed.RowCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Feed.RowCount },
	},
	{
		key: "feed.genres", typ: kString, env: "FOLIO_FEED_GENRES",
		apply:   func(cfg *Config, v any) { cfg.Feed.Genres = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.Genres },
	},
	{
		key: "feed.max_offset", typ: kInt, env: "FOLIO_FEED_MAX_OFFSET",
		apply:   func(cfg *Config, v any) { cfg.Feed.MaxOffset = v.(int) },
		extract: func(cfg Config) any { return cfg.Feed.MaxOffset },
	},
	{
		key: "feed.row_limit", typ: kInt, env: "FOLIO_FEED_ROW_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Feed.RowLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Feed.RowLimit },
	},
	{
		key: "feed.recommended_limit", typ: kInt, env: "FOLIO_FEED_RECOMMENDED_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Feed.RecommendedLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Feed.RecommendedLimit },
	},
	{
		key: "recommend.k", typ: kInt, env: "FOLIO_RECOMMEND_K",
		apply:   func(cfg *Config, v any) { cfg.Recommend.K = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommend.K },
	},
	{
		key: "recommend.fallback_size", typ: kInt, env: "FOLIO_RECOMMEND_FALLBACK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Recommend.FallbackSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommend.FallbackSize },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "FOLIO_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.ttl", typ: kString, env: "FOLIO_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "FOLIO_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
