package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Database    DatabaseConfig    `mapstructure:"database"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Search      SearchConfig      `mapstructure:"search"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DefinitionsConfig holds the indexer definition directory layout.
type DefinitionsConfig struct {
	Dir       string `mapstructure:"dir"`
	CustomDir string `mapstructure:"custom_dir"`
}

// DatabaseConfig holds database configuration. The database stores
// persisted session cookies per indexer.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig holds outbound HTTP client configuration.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	// FlareSolverrURL, when set, enables delegating Cloudflare-challenged
	// fetches to an external browser solver.
	FlareSolverrURL string `mapstructure:"flaresolverr_url"`
}

// SearchConfig holds search behavior configuration.
type SearchConfig struct {
	ResultLimit int `mapstructure:"result_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Timeout returns the HTTP timeout as a duration.
func (c *HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Definitions: DefinitionsConfig{
			Dir:       "./data/definitions",
			CustomDir: "./data/definitions/custom",
		},
		Database: DatabaseConfig{
			Path: "./data/cinephage.db",
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 60,
		},
		Search: SearchConfig{
			ResultLimit: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.cinephage")
	}

	// Environment variable settings
	v.SetEnvPrefix("CINEPHAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Definition directory defaults
	v.SetDefault("definitions.dir", "./data/definitions")
	v.SetDefault("definitions.custom_dir", "./data/definitions/custom")

	// Database defaults
	v.SetDefault("database.path", "./data/cinephage.db")

	// HTTP defaults
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.flaresolverr_url", "")

	// Search defaults
	v.SetDefault("search.result_limit", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
}
