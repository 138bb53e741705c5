// Package config loads regsync configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultFile is read when no path is given.
	DefaultFile = "regsync.toml"
	// EnvConfig names the environment variable holding the config path.
	EnvConfig = "REGSYNC_CONFIG"
)

// Duration is a time.Duration written as a string such as "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete regsync configuration.
type Config struct {
	Registry  RegistryConfig  `toml:"registry"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Warehouse WarehouseConfig `toml:"warehouse"`
	Channel   ChannelConfig   `toml:"channel"`
	Server    ServerConfig    `toml:"server"`
	Details   DetailsConfig   `toml:"details"`

	path string
}

type RegistryConfig struct {
	BaseURL           string      `toml:"base_url"`
	Query             string      `toml:"query"`
	PageSize          int         `toml:"page_size"`
	PolitenessDelay   Duration    `toml:"politeness_delay"`
	RequestsPerSecond float64     `toml:"requests_per_second"`
	Timeout           Duration    `toml:"timeout"`
	Retry             RetryConfig `toml:"retry"`
}

type RetryConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// SecretsConfig selects where the registry API key comes from.
type SecretsConfig struct {
	Provider string `toml:"provider"` // env, file, gcp or static
	Name     string `toml:"name"`
	Project  string `toml:"project"`
	EnvVar   string `toml:"env_var"`
	File     string `toml:"file"`
	Value    string `toml:"value"`
}

type WarehouseConfig struct {
	Driver string `toml:"driver"` // sqlite, postgres or weaviate
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
	Schema string `toml:"schema"`
	URL    string `toml:"url"`
}

type ChannelConfig struct {
	Path           string   `toml:"path"`
	Topic          string   `toml:"topic"`
	PushEndpoint   string   `toml:"push_endpoint"`
	Subscription   string   `toml:"subscription"`
	MaxAttempts    int      `toml:"max_attempts"`
	PollInterval   Duration `toml:"poll_interval"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

type ServerConfig struct {
	Listen            string `toml:"listen"`
	LogLevel          string `toml:"log_level"`
	LogFormat         string `toml:"log_format"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	MaxRequestBody    int64  `toml:"max_request_body"`
}

type DetailsConfig struct {
	Limit           int      `toml:"limit"`
	PolitenessDelay Duration `toml:"politeness_delay"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			BaseURL:         "https://api.company-information.service.gov.uk",
			Query:           "a",
			PageSize:        100,
			PolitenessDelay: Duration(time.Second),
			Timeout:         Duration(20 * time.Second),
			Retry: RetryConfig{
				MaxRetries:     5,
				InitialBackoff: Duration(time.Second),
				MaxBackoff:     Duration(time.Minute),
			},
		},
		Secrets: SecretsConfig{
			Provider: "env",
			Name:     "companies-house-api-key",
		},
		Warehouse: WarehouseConfig{
			Driver: "sqlite",
			Path:   "data/warehouse.db",
			Schema: "companies_house",
		},
		Channel: ChannelConfig{
			Path:           "data/channel.db",
			Topic:          "company-changes",
			Subscription:   "company-changes-push",
			MaxAttempts:    5,
			PollInterval:   Duration(5 * time.Second),
			InitialBackoff: Duration(10 * time.Second),
			MaxBackoff:     Duration(10 * time.Minute),
		},
		Server: ServerConfig{
			Listen:            "0.0.0.0:8080",
			LogLevel:          "info",
			LogFormat:         "json",
			RequestsPerMinute: 120,
			MaxRequestBody:    1 << 20,
		},
		Details: DetailsConfig{
			PolitenessDelay: Duration(500 * time.Millisecond),
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path falls back to $REGSYNC_CONFIG and then DefaultFile; a missing
// default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was read from, if any.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"REGSYNC_REGISTRY_URL":     &c.Registry.BaseURL,
		"REGSYNC_QUERY":            &c.Registry.Query,
		"REGSYNC_SECRETS_PROVIDER": &c.Secrets.Provider,
		"REGSYNC_SECRET_NAME":      &c.Secrets.Name,
		"REGSYNC_GCP_PROJECT":      &c.Secrets.Project,
		"REGSYNC_WAREHOUSE_DRIVER": &c.Warehouse.Driver,
		"REGSYNC_WAREHOUSE_PATH":   &c.Warehouse.Path,
		"REGSYNC_WAREHOUSE_DSN":    &c.Warehouse.DSN,
		"REGSYNC_WAREHOUSE_SCHEMA": &c.Warehouse.Schema,
		"REGSYNC_WEAVIATE_URL":     &c.Warehouse.URL,
		"REGSYNC_CHANNEL_PATH":     &c.Channel.Path,
		"REGSYNC_TOPIC":            &c.Channel.Topic,
		"REGSYNC_PUSH_ENDPOINT":    &c.Channel.PushEndpoint,
		"REGSYNC_LISTEN":           &c.Server.Listen,
		"REGSYNC_LOG_LEVEL":        &c.Server.LogLevel,
		"REGSYNC_LOG_FORMAT":       &c.Server.LogFormat,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("REGSYNC_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REGSYNC_PAGE_SIZE: %w", err)
		}
		c.Registry.PageSize = n
	}
	if v := os.Getenv("REGSYNC_POLITENESS_DELAY"); v != "" {
		if err := c.Registry.PolitenessDelay.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("REGSYNC_POLITENESS_DELAY: %w", err)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		host := "0.0.0.0"
		if h, _, ok := strings.Cut(c.Server.Listen, ":"); ok && h != "" {
			host = h
		}
		c.Server.Listen = host + ":" + v
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Registry.PageSize <= 0 {
		return fmt.Errorf("registry.page_size must be positive, got %d", c.Registry.PageSize)
	}
	if c.Registry.Retry.MaxRetries <= 0 {
		return fmt.Errorf("registry.retry.max_retries must be positive, got %d", c.Registry.Retry.MaxRetries)
	}
	switch c.Secrets.Provider {
	case "env", "file", "static":
	case "gcp":
		if c.Secrets.Project == "" {
			return fmt.Errorf("secrets.project is required for the gcp provider")
		}
	default:
		return fmt.Errorf("unknown secrets provider %q", c.Secrets.Provider)
	}
	switch c.Warehouse.Driver {
	case "sqlite":
		if c.Warehouse.Path == "" {
			return fmt.Errorf("warehouse.path is required for sqlite")
		}
	case "postgres":
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("warehouse.dsn is required for postgres")
		}
	case "weaviate":
		if c.Warehouse.URL == "" {
			return fmt.Errorf("warehouse.url is required for weaviate")
		}
	default:
		return fmt.Errorf("unknown warehouse driver %q", c.Warehouse.Driver)
	}
	if c.Channel.Topic == "" {
		return fmt.Errorf("channel.topic must not be empty")
	}
	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger builds the process logger from the server settings.
func (c *Config) Logger(w *os.File) *slog.Logger {
	level, _ := ParseLevel(c.Server.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.Server.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
