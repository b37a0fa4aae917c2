package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AcquisitionMode string

const (
	ModeScrape AcquisitionMode = "scrape"
	ModeAPI    AcquisitionMode = "api"
)

type Config struct {
	Mode         AcquisitionMode
	Etsy         EtsyConfig
	Scraper      ScraperConfig
	Cache        CacheConfig
	Catalog      CatalogConfig
	Scheduler    SchedulerConfig
	Sync         SyncConfig
	Log          LogConfig
	S3           S3Config
	MetricsAddr  string
	NATSURL      string
	Marketplaces map[string]*MarketplaceConfig
}

type EtsyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBaseURL   string
	TokenURL     string
}

type ScraperConfig struct {
	MinInterval     time.Duration
	Timeout         time.Duration
	BrowserFallback bool
	ProxyURL        string
	UserAgent       string
}

type CacheConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type CatalogConfig struct {
	Driver      string // postgres or sqlite
	DatabaseURL string
	DBPath      string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type SyncConfig struct {
	Concurrency int
	PageSize    int
	Incremental bool
}

type LogConfig struct {
	Level    string
	Encoding string
	File     string
}

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for R2, MinIO, etc.
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// MarketplaceConfig is loaded from config/marketplaces/*.yaml.
type MarketplaceConfig struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	AllowedHosts    []string `yaml:"allowed_hosts"`
	RootURL         string   `yaml:"root_url"`
	BestSellersURL  string   `yaml:"best_sellers_url"`
	SearchURL       string   `yaml:"search_url"`
	MinIntervalMS   int      `yaml:"min_interval_ms"`
	BlockSignatures []string `yaml:"block_signatures"`
}

func DefaultEtsy() *MarketplaceConfig {
	return &MarketplaceConfig{
		ID:             "etsy",
		Name:           "Etsy",
		AllowedHosts:   []string{"etsy.com", "www.etsy.com", "m.etsy.com"},
		RootURL:        "https://www.etsy.com/",
		BestSellersURL: "https://www.etsy.com/featured/best-sellers",
		SearchURL:      "https://www.etsy.com/search",
		MinIntervalMS:  1500,
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Mode: AcquisitionMode(strings.ToLower(getEnv("ACQUISITION_MODE", string(ModeScrape)))),
		Etsy: EtsyConfig{
			ClientID:     os.Getenv("ETSY_CLIENT_ID"),
			ClientSecret: os.Getenv("ETSY_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("ETSY_REDIRECT_URI"),
			APIBaseURL:   getEnv("ETSY_API_BASE_URL", "https://openapi.etsy.com"),
			TokenURL:     getEnv("ETSY_TOKEN_URL", "https://api.etsy.com/v3/public/oauth/token"),
		},
		Scraper: ScraperConfig{
			MinInterval:     getEnvDuration("SCRAPE_MIN_INTERVAL", 1500*time.Millisecond),
			Timeout:         getEnvDuration("SCRAPE_TIMEOUT", 25*time.Second),
			BrowserFallback: getEnvBool("BROWSER_FALLBACK_ENABLED", false),
			ProxyURL:        os.Getenv("PROXY_URL"),
			UserAgent:       os.Getenv("SCRAPE_USER_AGENT"),
		},
		Cache: CacheConfig{
			TTL:           getEnvDuration("CACHE_TTL", 5*time.Minute),
			SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Catalog: CatalogConfig{
			Driver:      getEnv("CATALOG_DRIVER", "sqlite"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			DBPath:      getEnv("DB_PATH", "catalog.db"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SYNC_CRON"),
			Interval: getEnvDuration("SYNC_INTERVAL", 0),
		},
		Sync: SyncConfig{
			Concurrency: getEnvInt("SYNC_CONCURRENCY", 1),
			PageSize:    getEnvInt("SYNC_PAGE_SIZE", 100),
			Incremental: getEnvBool("SYNC_INCREMENTAL", true),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
			File:     getEnv("LOG_FILE", "daemon.log"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		NATSURL:      os.Getenv("NATS_URL"),
		Marketplaces: make(map[string]*MarketplaceConfig),
	}

	if cfg.Mode != ModeScrape && cfg.Mode != ModeAPI {
		return nil, fmt.Errorf("invalid ACQUISITION_MODE %q: want scrape or api", cfg.Mode)
	}
	if cfg.Sync.Concurrency < 1 {
		cfg.Sync.Concurrency = 1
	}

	if err := cfg.loadMarketplaceConfigs(getEnv("MARKETPLACE_CONFIG_DIR", "config/marketplaces")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Marketplace returns the named marketplace config, falling back to built-in
// defaults for etsy.
func (c *Config) Marketplace(id string) *MarketplaceConfig {
	if m, ok := c.Marketplaces[id]; ok {
		return m
	}
	if id == "etsy" {
		return DefaultEtsy()
	}
	return nil
}

func (c *Config) loadMarketplaceConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var m MarketplaceConfig
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if m.ID == "" {
			return fmt.Errorf("parse %s: missing id", path)
		}
		if m.ID == "etsy" {
			m.applyDefaults(DefaultEtsy())
		}

		c.Marketplaces[m.ID] = &m
	}

	return nil
}

func (m *MarketplaceConfig) applyDefaults(d *MarketplaceConfig) {
	if len(m.AllowedHosts) == 0 {
		m.AllowedHosts = d.AllowedHosts
	}
	if m.RootURL == "" {
		m.RootURL = d.RootURL
	}
	if m.BestSellersURL == "" {
		m.BestSellersURL = d.BestSellersURL
	}
	if m.SearchURL == "" {
		m.SearchURL = d.SearchURL
	}
	if m.MinIntervalMS == 0 {
		m.MinIntervalMS = d.MinIntervalMS
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
