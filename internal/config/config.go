// Package config loads budgetgate settings from viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/validator"
)

// Default values for optional settings.
const (
	DefaultDatabasePath  = "$HOME/.local/share/budgetgate/budgetgate.db"
	DefaultServerAddr    = ":8080"
	DefaultCacheTTL      = 15 * time.Minute
	DefaultExchange      = "budgetgate"
	DefaultSuggestionsQ  = "budgetgate.suggestions"
	DefaultServerTimeout = 30 * time.Second
)

// Config is the resolved runtime configuration.
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	AMQP       AMQPConfig
	Logging    LoggingConfig
	Validation ValidationConfig
	Metrics    MetricsConfig
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path         string
	QueryTimeout time.Duration
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AMQPConfig configures the optional broker connection. An empty URL disables it.
type AMQPConfig struct {
	URL              string
	Exchange         string
	SuggestionsQueue string
}

// Enabled reports whether a broker URL is configured.
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

// LoggingConfig selects slog level and format.
type LoggingConfig struct {
	Level  string
	Format string
}

// ValidationConfig holds the preview policy.
type ValidationConfig struct {
	PreviewPolicy validator.Policy
}

// MetricsConfig holds the snapshot cache TTL.
type MetricsConfig struct {
	CacheTTL time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.query_timeout", 5*time.Second)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.read_timeout", DefaultServerTimeout)
	v.SetDefault("server.write_timeout", DefaultServerTimeout)
	v.SetDefault("metrics.cache_ttl", DefaultCacheTTL)
	v.SetDefault("validation.preview_policy", string(validator.PolicyFailOpen))
	v.SetDefault("amqp.exchange", DefaultExchange)
	v.SetDefault("amqp.suggestions_queue", DefaultSuggestionsQ)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	policy, err := validator.ParsePolicy(v.GetString("validation.preview_policy"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path:         ExpandPath(v.GetString("database.path")),
			QueryTimeout: v.GetDuration("database.query_timeout"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		AMQP: AMQPConfig{
			URL:              v.GetString("amqp.url"),
			Exchange:         v.GetString("amqp.exchange"),
			SuggestionsQueue: v.GetString("amqp.suggestions_queue"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Validation: ValidationConfig{PreviewPolicy: policy},
		Metrics:    MetricsConfig{CacheTTL: v.GetDuration("metrics.cache_ttl")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path cannot be empty")
	}
	if c.Database.QueryTimeout <= 0 {
		problems = append(problems, "database.query_timeout must be positive")
	}
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr cannot be empty")
	}
	if c.Metrics.CacheTTL <= 0 {
		problems = append(problems, "metrics.cache_ttl must be positive")
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, fmt.Sprintf("invalid logging.level %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		problems = append(problems, fmt.Sprintf("invalid logging.format %q: must be console or json", c.Logging.Format))
	}

	if c.AMQP.Enabled() {
		if parsed, err := url.Parse(c.AMQP.URL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid amqp.url: %v", err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid amqp.url scheme %q: must be amqp or amqps", parsed.Scheme))
		}
		if c.AMQP.Exchange == "" {
			problems = append(problems, "amqp.exchange cannot be empty when amqp.url is set")
		}
		if c.AMQP.SuggestionsQueue == "" {
			problems = append(problems, "amqp.suggestions_queue cannot be empty when amqp.url is set")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
