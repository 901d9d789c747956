package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables read in addition to the WRAPPED_
// prefixed form of every key.
const (
	EnvAPIKey  = "JULES_API_KEY"
	EnvBaseURL = "JULES_BASE_URL"
	EnvDataDir = "WRAPPED_DATA_DIR"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds all application configuration.
type Config struct {
	APIKey            string `mapstructure:"api_key" json:"api_key,omitempty"`
	BaseURL           string `mapstructure:"base_url" json:"base_url,omitempty"`
	DataDir           string `mapstructure:"data_dir" json:"-"`
	DBPath            string `mapstructure:"-" json:"-"`
	Year              int    `mapstructure:"year" json:"year,omitempty"`
	Workers           int    `mapstructure:"workers" json:"workers,omitempty"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" json:"requests_per_minute,omitempty"`
	Timezone          string `mapstructure:"timezone" json:"timezone,omitempty"`
	Format            string `mapstructure:"format" json:"format,omitempty"`
	LogLevel          string `mapstructure:"log_level" json:"log_level,omitempty"`
	MetricsAddr       string `mapstructure:"metrics_addr" json:"metrics_addr,omitempty"`
	Sample            bool   `mapstructure:"sample" json:"-"`
	Offline           bool   `mapstructure:"offline" json:"-"`
	NoCache           bool   `mapstructure:"no_cache" json:"no_cache,omitempty"`

	// MaxPages and MaxAttempts are optional ceilings; zero keeps
	// paging and retrying until the API is done.
	MaxPages    int `mapstructure:"max_pages" json:"max_pages,omitempty"`
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts,omitempty"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".jules-wrapped")
	return Config{
		BaseURL:           "https://jules.googleapis.com/v1alpha",
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "cache.db"),
		Workers:           3,
		RequestsPerMinute: 60,
		Timezone:          "Local",
		Format:            FormatJSON,
		LogLevel:          "info",
	}, nil
}

// flag name -> config key
var flagKeys = map[string]string{
	"api-key":             "api_key",
	"base-url":            "base_url",
	"data-dir":            "data_dir",
	"year":                "year",
	"workers":             "workers",
	"requests-per-minute": "requests_per_minute",
	"timezone":            "timezone",
	"format":              "format",
	"log-level":           "log_level",
	"metrics-addr":        "metrics_addr",
	"sample":              "sample",
	"offline":             "offline",
	"no-cache":            "no_cache",
	"max-pages":           "max_pages",
	"max-attempts":        "max_attempts",
}

// RegisterFlags registers the collection flags on fs. Flag
// defaults are only documentation: unset flags never override
// the config file or environment.
func RegisterFlags(fs *pflag.FlagSet) {
	def, _ := Default()
	fs.String("api-key", "", "Jules API key (prefer "+EnvAPIKey+")")
	fs.String("base-url", def.BaseURL, "Jules API base URL")
	fs.String("data-dir", def.DataDir, "Directory for config and cache")
	fs.Int("year", 0, "Year to summarize (default current year)")
	fs.Int("workers", def.Workers, "Concurrent activity fetches")
	fs.Int(
		"requests-per-minute", def.RequestsPerMinute,
		"Initial request budget; lowered automatically on 429",
	)
	fs.String("timezone", def.Timezone, "IANA zone for calendar days")
	fs.String("format", def.Format, "Output format: json or text")
	fs.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Bool("sample", false, "Use built-in sample data instead of the API")
	fs.Bool("offline", false, "Compute from the local cache only")
	fs.Bool("no-cache", false, "Do not record fetched data")
	fs.Int("max-pages", 0, "Fail listings longer than this many pages (0 = unlimited)")
	fs.Int("max-attempts", 0, "Fail calls after this many retries (0 = unlimited)")
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	def, err := Default()
	if err != nil {
		return def, err
	}

	v := viper.New()
	setDefaults(v, def)
	v.SetEnvPrefix("WRAPPED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"api_key":  EnvAPIKey,
		"base_url": EnvBaseURL,
		"data_dir": EnvDataDir,
	} {
		if err := v.BindEnv(key, env, "WRAPPED_"+strings.ToUpper(key)); err != nil {
			return def, fmt.Errorf("binding %s: %w", env, err)
		}
	}
	if err := bindFlags(v, fs); err != nil {
		return def, err
	}

	// The data directory decides where the config file lives,
	// so it is resolved before the file is read.
	dataDir := v.GetString("data_dir")
	if err := readFile(v, filepath.Join(dataDir, "config.json")); err != nil {
		return def, fmt.Errorf("loading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return def, fmt.Errorf("decoding config: %w", err)
	}
	cfg.DataDir = dataDir
	cfg.DBPath = filepath.Join(dataDir, "cache.db")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("year", 0)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("requests_per_minute", def.RequestsPerMinute)
	v.SetDefault("timezone", def.Timezone)
	v.SetDefault("format", def.Format)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("sample", false)
	v.SetDefault("offline", false)
	v.SetDefault("no_cache", false)
	v.SetDefault("max_pages", 0)
	v.SetDefault("max_attempts", 0)
}

// bindFlags binds only the flags that were explicitly set, so a
// flag's default never shadows the file or environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

func readFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v.ReadInConfig()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.RequestsPerMinute < 1 {
		errs = append(errs, fmt.Errorf(
			"requests_per_minute must be at least 1, got %d", c.RequestsPerMinute,
		))
	}
	if c.MaxPages < 0 || c.MaxAttempts < 0 {
		errs = append(errs, errors.New("max_pages and max_attempts must not be negative"))
	}
	if c.Format != FormatJSON && c.Format != FormatText {
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	if c.Sample && c.Offline {
		errs = append(errs, errors.New("sample and offline are mutually exclusive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the time zone used for calendar days.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

// SaveAPIKey persists the API key to the config file, keeping
// every other key.
func (c *Config) SaveAPIKey(key string) error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	existing := make(map[string]any)
	data, err := os.ReadFile(c.configPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf(
				"existing config is invalid, cannot update: %w",
				err,
			)
		}
	}

	existing["api_key"] = key
	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(c.configPath(), out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	c.APIKey = key
	return nil
}
