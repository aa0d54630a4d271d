package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/felo/mail-indexer/internal/content"
	"github.com/felo/mail-indexer/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. MAILIDX_DB_PATH.
const EnvPrefix = "mailidx"

// LocatorConfig controls inline part locators
type LocatorConfig struct {
	Scope string `mapstructure:"scope"`
}

// TokenizerConfig controls word indexing
type TokenizerConfig struct {
	FilterStopwords bool     `mapstructure:"filter_stopwords"`
	Stopwords       []string `mapstructure:"stopwords"`
}

// Config holds application configuration
type Config struct {
	// Database settings
	DBPath string `mapstructure:"db_path"`

	// Mail store settings
	StorePath       string `mapstructure:"store_path"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes"` // "64MB" or a plain byte count

	// Pipeline settings
	Workers   int `mapstructure:"workers"`
	ReadAhead int `mapstructure:"read_ahead"`

	// MetricsFile receives the run metrics in Prometheus text format when set
	MetricsFile string `mapstructure:"metrics_file"`

	Locator   LocatorConfig   `mapstructure:"locator"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Log       logger.Config   `mapstructure:"log"`
}

// Default returns default configuration
func Default() *Config {
	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	// Use ~/.mail-indexer for data directory
	dataDir := filepath.Join(homeDir, ".mail-indexer")

	workers := runtime.NumCPU()
	return &Config{
		DBPath:          filepath.Join(dataDir, "index.db"),
		StorePath:       "./mail",
		MaxMessageBytes: 64 << 20,
		Workers:         workers,
		ReadAhead:       2 * workers,
		Locator:         LocatorConfig{Scope: content.DefaultScope},
		Log: logger.Config{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and MAILIDX_* environment variables, in increasing
// order of precedence.
func Load(configFile string) (*Config, error) {
	loadEnvFile(".env")

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("store_path", d.StorePath)
	v.SetDefault("max_message_bytes", humanize.IBytes(uint64(d.MaxMessageBytes)))
	v.SetDefault("workers", d.Workers)
	v.SetDefault("read_ahead", d.ReadAhead)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("locator.scope", d.Locator.Scope)
	v.SetDefault("tokenizer.filter_stopwords", d.Tokenizer.FilterStopwords)
	v.SetDefault("tokenizer.stopwords", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.log_file", d.Log.LogFile)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
}

var int64Type = reflect.TypeOf(int64(0))

// byteSizeHook decodes human readable sizes ("64MB", "1MiB") into int64
// fields.
func byteSizeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != int64Type {
		return data, nil
	}
	size, err := humanize.ParseBytes(data.(string))
	if err != nil {
		return nil, fmt.Errorf("invalid byte size %q: %w", data, err)
	}
	return int64(size), nil
}

// loadEnvFile loads path into the environment if it exists. Variables
// already set are not overridden.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// Validate checks the settings the pipeline depends on
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ReadAhead < 1 {
		return fmt.Errorf("read_ahead must be at least 1, got %d", c.ReadAhead)
	}
	if c.MaxMessageBytes < 0 {
		return fmt.Errorf("max_message_bytes must not be negative")
	}
	return nil
}
