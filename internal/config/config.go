package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	Env        string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`
	ServerPort string `mapstructure:"SERVER_PORT"`
	OutputDir  string `mapstructure:"OUTPUT_DIR"`

	// StoreDriver is postgres, sqlite or mysql; empty disables persistence.
	StoreDriver   string        `mapstructure:"STORE_DRIVER"`
	StoreDSN      string        `mapstructure:"STORE_DSN"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RedisPrefix   string        `mapstructure:"REDIS_PREFIX"`
	SeenTTL       time.Duration `mapstructure:"SEEN_TTL"`
	ProgressTTL   time.Duration `mapstructure:"PROGRESS_TTL"`

	ChromeHeadless bool   `mapstructure:"CHROME_HEADLESS"`
	ChromePath     string `mapstructure:"CHROME_PATH"`

	MaxConcurrentRuns int           `mapstructure:"MAX_CONCURRENT_RUNS"`
	MaxQueuedRuns     int           `mapstructure:"MAX_QUEUED_RUNS"`
	JobRetention      time.Duration `mapstructure:"JOB_RETENTION"`

	NavigationTimeout time.Duration `mapstructure:"NAVIGATION_TIMEOUT"`
	FeedTimeout       time.Duration `mapstructure:"FEED_TIMEOUT"`
	DetailTimeout     time.Duration `mapstructure:"DETAIL_TIMEOUT"`
	CandidateTimeout  time.Duration `mapstructure:"CANDIDATE_TIMEOUT"`
	RunTimeout        time.Duration `mapstructure:"RUN_TIMEOUT"`
	FeedAttempts      int           `mapstructure:"FEED_ATTEMPTS"`
	MaxRetries        int           `mapstructure:"MAX_RETRIES"`
	RetryBaseDelay    time.Duration `mapstructure:"RETRY_BASE_DELAY"`

	PaginationTimeout     time.Duration `mapstructure:"PAGINATION_TIMEOUT"`
	PaginationMaxAttempts int           `mapstructure:"PAGINATION_MAX_ATTEMPTS"`
	PaginationNoGrowth    int           `mapstructure:"PAGINATION_NO_GROWTH"`
	StabilizeTimeout      time.Duration `mapstructure:"STABILIZE_TIMEOUT"`
	PollInterval          time.Duration `mapstructure:"POLL_INTERVAL"`
	ScrollAmount          int           `mapstructure:"SCROLL_AMOUNT"`

	PaceMin       time.Duration `mapstructure:"PACE_MIN"`
	PaceMax       time.Duration `mapstructure:"PACE_MAX"`
	CountryPrefix string        `mapstructure:"COUNTRY_PREFIX"`
	CityFilter    bool          `mapstructure:"CITY_FILTER"`
	GeoFilter     bool          `mapstructure:"GEO_FILTER"`
	GeoSlack      float64       `mapstructure:"GEO_SLACK"`
	PreviewMax    int           `mapstructure:"PREVIEW_MAX"`

	EnrichEnabled       bool          `mapstructure:"ENRICH_ENABLED"`
	EnrichTimeout       time.Duration `mapstructure:"ENRICH_TIMEOUT"`
	EnrichFollowContact bool          `mapstructure:"ENRICH_FOLLOW_CONTACT"`
	MXCheck             bool          `mapstructure:"MX_CHECK"`
	DNSResolvers        []string      `mapstructure:"DNS_RESOLVERS"`

	Proxies               []string      `mapstructure:"PROXIES"`
	ProxyMaxFailures      int           `mapstructure:"PROXY_MAX_FAILURES"`
	ProxyRotateOnFail     bool          `mapstructure:"PROXY_ROTATE_ON_FAIL"`
	ProxySources          []string      `mapstructure:"PROXY_SOURCES"`
	ProxyProbeURL         string        `mapstructure:"PROXY_PROBE_URL"`
	ProxyProbeTimeout     time.Duration `mapstructure:"PROXY_PROBE_TIMEOUT"`
	ProxyProbeConcurrency int           `mapstructure:"PROXY_PROBE_CONCURRENCY"`
}

var defaults = map[string]any{
	"APP_ENV":     "development",
	"LOG_LEVEL":   "info",
	"LOG_FORMAT":  "json",
	"SERVER_PORT": "8080",
	"OUTPUT_DIR":  "output",

	"STORE_DRIVER":   "",
	"STORE_DSN":      "",
	"REDIS_ADDR":     "",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,
	"REDIS_PREFIX":   "harvester:",
	"SEEN_TTL":       30 * 24 * time.Hour,
	"PROGRESS_TTL":   24 * time.Hour,

	"CHROME_HEADLESS": true,
	"CHROME_PATH":     "",

	"MAX_CONCURRENT_RUNS": 2,
	"MAX_QUEUED_RUNS":     8,
	"JOB_RETENTION":       24 * time.Hour,

	"NAVIGATION_TIMEOUT": 15 * time.Second,
	"FEED_TIMEOUT":       20 * time.Second,
	"DETAIL_TIMEOUT":     5 * time.Second,
	"CANDIDATE_TIMEOUT":  45 * time.Second,
	"RUN_TIMEOUT":        30 * time.Minute,
	"FEED_ATTEMPTS":      3,
	"MAX_RETRIES":        2,
	"RETRY_BASE_DELAY":   time.Second,

	"PAGINATION_TIMEOUT":      60 * time.Second,
	"PAGINATION_MAX_ATTEMPTS": 50,
	"PAGINATION_NO_GROWTH":    5,
	"STABILIZE_TIMEOUT":       2 * time.Second,
	"POLL_INTERVAL":           100 * time.Millisecond,
	"SCROLL_AMOUNT":           800,

	"PACE_MIN":       time.Second,
	"PACE_MAX":       2500 * time.Millisecond,
	"COUNTRY_PREFIX": "52",
	"CITY_FILTER":    false,
	"GEO_FILTER":     false,
	"GEO_SLACK":      1.5,
	"PREVIEW_MAX":    200,

	"ENRICH_ENABLED":        true,
	"ENRICH_TIMEOUT":        10 * time.Second,
	"ENRICH_FOLLOW_CONTACT": true,
	"MX_CHECK":              false,
	"DNS_RESOLVERS":         []string{"1.1.1.1:53", "8.8.8.8:53"},

	"PROXIES":                 []string{},
	"PROXY_MAX_FAILURES":      3,
	"PROXY_ROTATE_ON_FAIL":    true,
	"PROXY_SOURCES":           []string{},
	"PROXY_PROBE_URL":         "https://www.google.com",
	"PROXY_PROBE_TIMEOUT":     15 * time.Second,
	"PROXY_PROBE_CONCURRENCY": 10,
}

// Load reads configuration from the given .env files (".env" when none are
// named) and the environment. Real environment variables win over file
// values. Missing files are not an error, so production can configure
// purely through the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Proxies = compact(cfg.Proxies)
	cfg.ProxySources = compact(cfg.ProxySources)
	cfg.DNSResolvers = compact(cfg.DNSResolvers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and that every timeout fits inside the one
// that encloses it.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	positive := map[string]time.Duration{
		"NAVIGATION_TIMEOUT": c.NavigationTimeout,
		"FEED_TIMEOUT":       c.FeedTimeout,
		"DETAIL_TIMEOUT":     c.DetailTimeout,
		"CANDIDATE_TIMEOUT":  c.CandidateTimeout,
		"RUN_TIMEOUT":        c.RunTimeout,
		"PAGINATION_TIMEOUT": c.PaginationTimeout,
		"STABILIZE_TIMEOUT":  c.StabilizeTimeout,
		"POLL_INTERVAL":      c.PollInterval,
	}
	for name, d := range positive {
		check(d > 0, "%s must be positive", name)
	}

	check(c.NavigationTimeout < c.FeedTimeout, "NAVIGATION_TIMEOUT (%s) must be below FEED_TIMEOUT (%s)", c.NavigationTimeout, c.FeedTimeout)
	check(c.FeedTimeout < c.CandidateTimeout, "FEED_TIMEOUT (%s) must be below CANDIDATE_TIMEOUT (%s)", c.FeedTimeout, c.CandidateTimeout)
	check(c.DetailTimeout < c.CandidateTimeout, "DETAIL_TIMEOUT (%s) must be below CANDIDATE_TIMEOUT (%s)", c.DetailTimeout, c.CandidateTimeout)
	check(c.CandidateTimeout < c.PaginationTimeout, "CANDIDATE_TIMEOUT (%s) must be below PAGINATION_TIMEOUT (%s)", c.CandidateTimeout, c.PaginationTimeout)
	check(c.PaginationTimeout < c.RunTimeout, "PAGINATION_TIMEOUT (%s) must be below RUN_TIMEOUT (%s)", c.PaginationTimeout, c.RunTimeout)
	check(c.StabilizeTimeout < c.PaginationTimeout, "STABILIZE_TIMEOUT must be below PAGINATION_TIMEOUT")
	check(c.PollInterval <= c.StabilizeTimeout, "POLL_INTERVAL must not exceed STABILIZE_TIMEOUT")

	check(c.MaxConcurrentRuns >= 1, "MAX_CONCURRENT_RUNS must be at least 1")
	check(c.MaxQueuedRuns >= 0, "MAX_QUEUED_RUNS must not be negative")
	check(c.FeedAttempts >= 1, "FEED_ATTEMPTS must be at least 1")
	check(c.MaxRetries >= 0, "MAX_RETRIES must not be negative")
	check(c.PaginationMaxAttempts >= 1, "PAGINATION_MAX_ATTEMPTS must be at least 1")
	check(c.PaginationNoGrowth >= 1, "PAGINATION_NO_GROWTH must be at least 1")
	check(c.PaceMin >= 0 && c.PaceMin <= c.PaceMax, "PACE_MIN must be within 0 and PACE_MAX")
	check(c.GeoSlack >= 1, "GEO_SLACK must be at least 1")
	check(c.PreviewMax >= 1 && c.PreviewMax <= 500, "PREVIEW_MAX must be within 1-500")
	check(c.ProxyMaxFailures >= 1, "PROXY_MAX_FAILURES must be at least 1")

	switch c.LogFormat {
	case "json":
	case "console":
		check(!c.IsProduction(), "LOG_FORMAT must be json when APP_ENV=production")
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	switch strings.ToLower(c.StoreDriver) {
	case "":
	case "postgres", "postgresql", "sqlite", "mysql":
		check(c.StoreDSN != "", "STORE_DSN is required with STORE_DRIVER=%s", c.StoreDriver)
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func compact(list []string) []string {
	out := list[:0]
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
