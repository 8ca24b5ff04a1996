// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"price-scout/pkg/cache"
	"price-scout/pkg/hunter"
	"price-scout/pkg/retry"
	"price-scout/pkg/session"
)

const (
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// RateLimitPrefix is the prefix of per-store overrides such as
// RATE_LIMIT_AMAZON=10.
const RateLimitPrefix = "RATE_LIMIT_"

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Scraper   ScraperConfig
	RateLimit RateLimitConfig
	Search    SearchConfig
}

type HTTPConfig struct {
	Port              string        `envconfig:"HTTP_PORT" default:"9090"`
	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout   time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" required:"true"`
}

type CacheConfig struct {
	Backend   string        `envconfig:"CACHE_BACKEND" default:"sqlite"`
	DBPath    string        `envconfig:"CACHE_DB_PATH" default:"./cache.db"`
	RedisURL  string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	TTLHours  int           `envconfig:"CACHE_TTL_HOURS" default:"24"`
	SearchTTL time.Duration `envconfig:"CACHE_SEARCH_TTL" default:"10m"`
	StoreTTL  time.Duration `envconfig:"CACHE_STORE_TTL" default:"24h"`
}

// TTL is how long a stored price counts as fresh. Cached product records
// live just as long.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c CacheConfig) TTLPolicy() cache.TTLPolicy {
	return cache.TTLPolicy{
		Product: c.TTL(),
		Search:  c.SearchTTL,
		Store:   c.StoreTTL,
	}
}

type ScraperConfig struct {
	Browser     string        `envconfig:"SCRAPER_BROWSER" default:"chromedp"`
	UserAgent   string        `envconfig:"SCRAPER_USER_AGENT"`
	Timeout     time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"30s"`
	WaitTimeout time.Duration `envconfig:"SCRAPER_WAIT_TIMEOUT" default:"10s"`
	MaxRetries  int           `envconfig:"SCRAPER_MAX_RETRIES" default:"3"`
	RetryDelay  time.Duration `envconfig:"SCRAPER_RETRY_DELAY" default:"2s"`
	RetryJitter time.Duration `envconfig:"SCRAPER_RETRY_JITTER" default:"1s"`
	Locale      string        `envconfig:"SCRAPER_LOCALE" default:"de-DE"`
	Timezone    string        `envconfig:"SCRAPER_TIMEZONE" default:"Europe/Berlin"`
	DebugDir    string        `envconfig:"SCRAPER_DEBUG_DIR"`
}

func (c ScraperConfig) Session() session.Config {
	return session.Config{
		Backend:     c.Browser,
		UserAgent:   c.UserAgent,
		Locale:      c.Locale,
		Timezone:    c.Timezone,
		Timeout:     c.Timeout,
		WaitTimeout: c.WaitTimeout,
		DebugDir:    c.DebugDir,
	}
}

// RetryPolicy bounds every attempt by the navigation timeout.
func (c ScraperConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxRetries,
		BaseDelay:      c.RetryDelay,
		AttemptTimeout: c.Timeout,
		MaxJitter:      c.RetryJitter,
	}
}

type RateLimitConfig struct {
	DefaultRPM int           `envconfig:"RATE_LIMIT_DEFAULT_RPM" default:"20"`
	Jitter     time.Duration `envconfig:"RATE_LIMIT_JITTER" default:"500ms"`
}

type SearchConfig struct {
	Deadline            time.Duration `envconfig:"SEARCH_DEADLINE" default:"90s"`
	FreshRatio          float64       `envconfig:"SEARCH_FRESH_RATIO" default:"0.5"`
	DefaultMaxResults   int           `envconfig:"SEARCH_DEFAULT_MAX_RESULTS" default:"5"`
	MaxConcurrentStores int           `envconfig:"MAX_CONCURRENT_STORES" default:"3"`
	DedupeTie           string        `envconfig:"DEDUPE_TIE" default:"first"`
}

// Load reads the given dotenv files (".env" when none are named) into the
// process environment, then decodes and validates the configuration.
// Missing dotenv files are ignored and never override variables already set.
func Load(files ...string) (*Config, error) {
	log.Println("[CONFIG] Loading service configuration...")

	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	switch c.Cache.Backend {
	case CacheSQLite, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("config: CACHE_BACKEND must be sqlite, redis or none, got %q", c.Cache.Backend)
	}

	c.Scraper.Browser = strings.ToLower(c.Scraper.Browser)
	switch c.Scraper.Browser {
	case session.BackendChromedp, session.BackendRod, session.BackendHTTP:
	default:
		return fmt.Errorf("config: SCRAPER_BROWSER must be chromedp, rod or http, got %q", c.Scraper.Browser)
	}

	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("config: CACHE_TTL_HOURS must be positive, got %d", c.Cache.TTLHours)
	}
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("config: SCRAPER_MAX_RETRIES must be at least 1, got %d", c.Scraper.MaxRetries)
	}
	if c.Search.FreshRatio <= 0 || c.Search.FreshRatio > 1 {
		return fmt.Errorf("config: SEARCH_FRESH_RATIO must be in (0, 1], got %v", c.Search.FreshRatio)
	}
	if c.Search.MaxConcurrentStores < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_STORES must be at least 1, got %d", c.Search.MaxConcurrentStores)
	}
	if _, err := hunter.ParseTieBreak(c.Search.DedupeTie); err != nil {
		return fmt.Errorf("config: DEDUPE_TIE: %w", err)
	}
	return nil
}

// HunterOptions maps the search settings onto orchestrator options.
func (c *Config) HunterOptions() hunter.Options {
	opts := hunter.DefaultOptions()
	opts.CacheTTL = c.Cache.TTL()
	opts.FreshRatio = c.Search.FreshRatio
	opts.MaxConcurrentStores = c.Search.MaxConcurrentStores
	if c.Search.DefaultMaxResults > 0 {
		opts.DefaultMaxResults = c.Search.DefaultMaxResults
	}
	if tie, err := hunter.ParseTieBreak(c.Search.DedupeTie); err == nil {
		opts.TieBreak = tie
	}
	return opts
}

// RateLimitOverrides reads RATE_LIMIT_<STORE> for each store id. Unset,
// malformed and non-positive values are skipped.
func RateLimitOverrides(storeIDs []string) map[string]int {
	out := make(map[string]int)
	for _, id := range storeIDs {
		raw, ok := os.LookupEnv(RateLimitPrefix + strings.ToUpper(id))
		if !ok {
			continue
		}
		rpm, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || rpm <= 0 {
			log.Printf("[CONFIG] Ignoring %s%s=%q", RateLimitPrefix, strings.ToUpper(id), raw)
			continue
		}
		out[strings.ToLower(id)] = rpm
	}
	return out
}
