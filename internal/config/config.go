package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	API             APIConfig             `yaml:"api"`
	Sync            SyncConfig            `yaml:"sync"`
	Assets          AssetsConfig          `yaml:"assets"`
	Auth            AuthConfig            `yaml:"auth"`
	Worker          WorkerConfig          `yaml:"worker"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Log             LogConfig             `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// TriggerRate is the number of manual sync triggers allowed per minute.
	TriggerRate int `yaml:"trigger_rate"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig contains remote catalog API settings.
type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	User      string   `yaml:"user"`
	Key       string   `yaml:"-"` // env-only, never in YAML
	RateLimit float64  `yaml:"rate_limit"` // requests per second
	RateBurst int      `yaml:"rate_burst"`
	Timeout   Duration `yaml:"timeout"`
}

// SyncConfig contains sync pass settings.
type SyncConfig struct {
	PageSize       int      `yaml:"page_size"`
	ProductDelay   Duration `yaml:"product_delay"`
	Prefetch       bool     `yaml:"prefetch"`
	PrefetchDir    string   `yaml:"prefetch_dir"`
	ArtistsEnabled bool     `yaml:"artists_enabled"`
	PurgeOnPartial bool     `yaml:"purge_on_partial"`
}

// AssetsConfig contains image cache settings.
type AssetsConfig struct {
	RootDir      string        `yaml:"root_dir"`
	Variants     []VariantSize `yaml:"variants"`
	FetchTimeout Duration      `yaml:"fetch_timeout"`
}

// VariantSize is one derived thumbnail size.
type VariantSize struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background scheduler settings.
type WorkerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	ArtistsInterval  Duration `yaml:"artists_interval"`
	OffersInterval   Duration `yaml:"offers_interval"`
	ProductsInterval Duration `yaml:"products_interval"`
	PrefetchInterval Duration `yaml:"prefetch_interval"` // zero disables snapshot refresh
}

// SnapshotStorageConfig contains S3-compatible mirror settings for prefetch
// snapshots. An empty bucket disables the mirror.
type SnapshotStorageConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Prefix    string   `yaml:"prefix"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SPINSYNC_CONFIG_PATH", "config/spinsync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			TriggerRate:     6,
		},
		Database: DatabaseConfig{
			Path: "data/spinsync.db",
		},
		API: APIConfig{
			BaseURL:   "https://app.topspin.net",
			RateLimit: 5,
			RateBurst: 5,
			Timeout:   Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			PageSize:       100,
			ProductDelay:   Duration(60 * time.Second),
			PrefetchDir:    "data/prefetch",
			ArtistsEnabled: true,
		},
		Assets: AssetsConfig{
			RootDir: "data/uploads",
			Variants: []VariantSize{
				{Width: 150, Height: 150},
				{Width: 300, Height: 300},
			},
			FetchTimeout: Duration(30 * time.Second),
		},
		Worker: WorkerConfig{
			Enabled:          true,
			ArtistsInterval:  Duration(24 * time.Hour),
			OffersInterval:   Duration(1 * time.Hour),
			ProductsInterval: Duration(1 * time.Hour),
		},
		SnapshotStorage: SnapshotStorageConfig{
			Prefix:    "prefetch",
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("SPINSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("SPINSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SPINSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SPINSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("SPINSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Remote API
	if v := os.Getenv("SPINSYNC_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SPINSYNC_API_USER"); v != "" {
		cfg.API.User = v
	}
	if v := os.Getenv("SPINSYNC_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("SPINSYNC_API_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.API.RateLimit = f
		}
	}
	envDuration("SPINSYNC_API_TIMEOUT", &cfg.API.Timeout)

	// Sync
	if v := os.Getenv("SPINSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PageSize = n
		}
	}
	envDuration("SPINSYNC_PRODUCT_DELAY", &cfg.Sync.ProductDelay)
	envBool("SPINSYNC_PREFETCH", &cfg.Sync.Prefetch)
	if v := os.Getenv("SPINSYNC_PREFETCH_DIR"); v != "" {
		cfg.Sync.PrefetchDir = v
	}
	envBool("SPINSYNC_ARTISTS_ENABLED", &cfg.Sync.ArtistsEnabled)
	envBool("SPINSYNC_PURGE_ON_PARTIAL", &cfg.Sync.PurgeOnPartial)

	// Assets
	if v := os.Getenv("SPINSYNC_ASSETS_DIR"); v != "" {
		cfg.Assets.RootDir = v
	}
	envDuration("SPINSYNC_ASSET_FETCH_TIMEOUT", &cfg.Assets.FetchTimeout)

	// Auth
	if v := os.Getenv("SPINSYNC_ADMIN_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Worker
	envBool("SPINSYNC_WORKER_ENABLED", &cfg.Worker.Enabled)
	envDuration("SPINSYNC_ARTISTS_INTERVAL", &cfg.Worker.ArtistsInterval)
	envDuration("SPINSYNC_OFFERS_INTERVAL", &cfg.Worker.OffersInterval)
	envDuration("SPINSYNC_PRODUCTS_INTERVAL", &cfg.Worker.ProductsInterval)
	envDuration("SPINSYNC_PREFETCH_INTERVAL", &cfg.Worker.PrefetchInterval)

	// Snapshot storage
	if v := os.Getenv("SPINSYNC_S3_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("SPINSYNC_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("SPINSYNC_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("SPINSYNC_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("SPINSYNC_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}

	// Log
	if v := os.Getenv("SPINSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPINSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// validate checks that required configuration values are set.
// In dev mode (SPINSYNC_DEV_MODE=true), credential validation is skipped.
func (c *Config) validate() error {
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 1000 {
		return fmt.Errorf("sync.page_size must be between 1 and 1000, got %d", c.Sync.PageSize)
	}
	for _, v := range c.Assets.Variants {
		if v.Width <= 0 || v.Height <= 0 {
			return fmt.Errorf("invalid asset variant %dx%d", v.Width, v.Height)
		}
	}
	if c.SnapshotStorage.Bucket != "" && strings.TrimSpace(c.SnapshotStorage.Endpoint) == "" {
		return errors.New("snapshot_storage.endpoint is required when a bucket is set")
	}

	if os.Getenv("SPINSYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.API.User == "" || c.API.Key == "" {
		return errors.New("SPINSYNC_API_USER and SPINSYNC_API_KEY are required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("SPINSYNC_ADMIN_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
