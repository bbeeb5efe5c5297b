// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultCategories is the category taxonomy harvested when none is configured.
var DefaultCategories = []string{
	"tay-trang-mat-c48",
	"sua-rua-mat-c19",
	"tay-te-bao-chet-da-mat-c35",
	"toner-c1857",
	"chong-nang-da-mat-c11",
	"cham-soc-vung-da-mat-c297",
	"cham-soc-moi-c2059",
	"mat-na-c30",
	"ho-tro-tri-mun-c2005",
	"serum-tinh-chat-c75",
	"xit-khoang-c7",
	"lotion-sua-duong-c2011",
	"kem-duong-dau-duong-c9",
}

// Config holds every section used by the crawl and sync commands.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Store       StoreConfig       `mapstructure:"store"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	LabelStudio LabelStudioConfig `mapstructure:"labelstudio"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CrawlerConfig controls the catalog traversal and its HTTP transport.
type CrawlerConfig struct {
	ListingURL       string        `mapstructure:"listing_url"`
	DetailURL        string        `mapstructure:"detail_url"`
	Categories       []string      `mapstructure:"categories"`
	PageSize         int           `mapstructure:"page_size"`
	MaxPages         int           `mapstructure:"max_pages"`
	FormKey          string        `mapstructure:"form_key"`
	Parallelism      int           `mapstructure:"parallelism"`
	Delay            time.Duration `mapstructure:"delay"`
	RandomDelay      time.Duration `mapstructure:"random_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	UserAgent        string        `mapstructure:"user_agent"`
	RespectRobotsTxt bool          `mapstructure:"respect_robots"`
	DedupeSize       int           `mapstructure:"dedupe_size"`
}

// PipelineConfig sizes the ingest worker pool.
type PipelineConfig struct {
	Workers    int `mapstructure:"workers"`
	BufferSize int `mapstructure:"buffer_size"`
}

// StoreConfig controls the Postgres product store.
type StoreConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotConfig enables an optional local copy of every persisted record.
type SnapshotConfig struct {
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"` // json or csv
}

// LabelStudioConfig points the sync command at an annotation project.
type LabelStudioConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	ProjectID int           `mapstructure:"project_id"`
	BatchSize int           `mapstructure:"batch_size"`
	PageSize  int           `mapstructure:"page_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefaultConfig returns the defaults for the production catalog.
func DefaultConfig() *Config {
	return &Config{
		Crawler: CrawlerConfig{
			ListingURL:      "https://hasaki.vn/mobile/v3/main/products",
			DetailURL:       "https://hasaki.vn/mobile/v3/detail/product",
			Categories:      append([]string(nil), DefaultCategories...),
			PageSize:        40,
			MaxPages:        3,
			FormKey:         "c422d3923fe94e22193e5556ae1532ae",
			Parallelism:     8,
			Timeout:         15 * time.Second,
			MaxRetries:      2,
			RetryBackoff:    500 * time.Millisecond,
			RetryBackoffMax: 5 * time.Second,
			DedupeSize:      10000,
			UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
		},
		Pipeline: PipelineConfig{
			Workers:    4,
			BufferSize: 256,
		},
		Store: StoreConfig{
			Table:    "products",
			MaxConns: 8,
		},
		Snapshot: SnapshotConfig{
			Format: "json",
		},
		LabelStudio: LabelStudioConfig{
			ProjectID: 3,
			BatchSize: 50,
			PageSize:  100,
			Timeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Development: false,
		},
	}
}

// Load builds a Config from defaults, an optional .env file, an optional
// config file at path, and the environment. v may be nil; callers pass
// their own instance when flags are bound to it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("crawler.listing_url", d.Crawler.ListingURL)
	v.SetDefault("crawler.detail_url", d.Crawler.DetailURL)
	v.SetDefault("crawler.categories", d.Crawler.Categories)
	v.SetDefault("crawler.page_size", d.Crawler.PageSize)
	v.SetDefault("crawler.max_pages", d.Crawler.MaxPages)
	v.SetDefault("crawler.form_key", d.Crawler.FormKey)
	v.SetDefault("crawler.parallelism", d.Crawler.Parallelism)
	v.SetDefault("crawler.delay", d.Crawler.Delay)
	v.SetDefault("crawler.random_delay", d.Crawler.RandomDelay)
	v.SetDefault("crawler.timeout", d.Crawler.Timeout)
	v.SetDefault("crawler.max_retries", d.Crawler.MaxRetries)
	v.SetDefault("crawler.retry_backoff", d.Crawler.RetryBackoff)
	v.SetDefault("crawler.retry_backoff_max", d.Crawler.RetryBackoffMax)
	v.SetDefault("crawler.user_agent", d.Crawler.UserAgent)
	v.SetDefault("crawler.respect_robots", d.Crawler.RespectRobotsTxt)
	v.SetDefault("crawler.dedupe_size", d.Crawler.DedupeSize)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.buffer_size", d.Pipeline.BufferSize)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.table", d.Store.Table)
	v.SetDefault("store.max_conns", d.Store.MaxConns)
	v.SetDefault("snapshot.file", d.Snapshot.File)
	v.SetDefault("snapshot.format", d.Snapshot.Format)
	v.SetDefault("labelstudio.url", d.LabelStudio.URL)
	v.SetDefault("labelstudio.api_key", d.LabelStudio.APIKey)
	v.SetDefault("labelstudio.project_id", d.LabelStudio.ProjectID)
	v.SetDefault("labelstudio.batch_size", d.LabelStudio.BatchSize)
	v.SetDefault("labelstudio.page_size", d.LabelStudio.PageSize)
	v.SetDefault("labelstudio.timeout", d.LabelStudio.Timeout)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("logging.development", d.Logging.Development)
}

// bindEnv maps the conventional unprefixed variables onto config keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"store.dsn":              {"CRAWLER_STORE_DSN", "DATABASE_URL"},
		"labelstudio.url":        {"CRAWLER_LABELSTUDIO_URL", "LABEL_STUDIO_URL"},
		"labelstudio.api_key":    {"CRAWLER_LABELSTUDIO_API_KEY", "LABEL_STUDIO_API_KEY"},
		"labelstudio.project_id": {"CRAWLER_LABELSTUDIO_PROJECT_ID", "LABEL_STUDIO_PROJECT_ID"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate ensures crawl-related values are coherent.
func (c *CrawlerConfig) Validate() error {
	for name, raw := range map[string]string{"listing url": c.ListingURL, "detail url": c.DetailURL} {
		if raw == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	for _, slug := range c.Categories {
		if strings.TrimSpace(slug) == "" {
			return fmt.Errorf("category slugs cannot be blank")
		}
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DedupeSize <= 0 {
		return fmt.Errorf("dedupe size must be positive")
	}
	return nil
}

// ValidateCrawl checks everything the crawl command needs. A store DSN is
// optional when dryRun is set.
func (c *Config) ValidateCrawl(dryRun bool) error {
	if err := c.Crawler.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.Pipeline.BufferSize < 0 {
		return fmt.Errorf("pipeline buffer size cannot be negative")
	}
	if !dryRun {
		if err := c.Store.Validate(); err != nil {
			return err
		}
	}
	if c.Snapshot.File != "" && c.Snapshot.Format != "json" && c.Snapshot.Format != "csv" {
		return fmt.Errorf("snapshot format must be json or csv")
	}
	return nil
}

// ValidateSync checks everything the sync command needs.
func (c *Config) ValidateSync() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.LabelStudio.Validate()
}

// Validate ensures the store can be opened.
func (s *StoreConfig) Validate() error {
	if s.DSN == "" {
		return errors.New("store dsn is required (set DATABASE_URL)")
	}
	if s.Table == "" {
		return errors.New("store table cannot be empty")
	}
	if s.MaxConns < 0 {
		return errors.New("store max conns cannot be negative")
	}
	return nil
}

// Validate ensures the annotation project is reachable and batching is sane.
func (l *LabelStudioConfig) Validate() error {
	if l.URL == "" {
		return errors.New("label studio url is required (set LABEL_STUDIO_URL)")
	}
	if parsed, err := url.Parse(l.URL); err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid label studio url %q", l.URL)
	}
	if l.APIKey == "" {
		return errors.New("label studio api key is required (set LABEL_STUDIO_API_KEY)")
	}
	if l.ProjectID <= 0 {
		return errors.New("label studio project id must be positive")
	}
	if l.BatchSize <= 0 {
		return errors.New("label studio batch size must be positive")
	}
	if l.PageSize <= 0 {
		return errors.New("label studio page size must be positive")
	}
	if l.Timeout <= 0 {
		return errors.New("label studio timeout must be positive")
	}
	return nil
}
