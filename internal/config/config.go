// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Reddit    RedditConfig    `mapstructure:"reddit"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Generator GeneratorConfig `mapstructure:"generator"`
	DB        DBConfig        `mapstructure:"db"`
	Events    EventsConfig    `mapstructure:"events"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RedditConfig holds platform API access settings. Username and password
// here are the streaming identity; publish calls carry their own
// credentials per request.
type RedditConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	UserAgent      string   `mapstructure:"user_agent"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	Subreddits     []string `mapstructure:"subreddits"`
}

// EvaluatorConfig configures the external classification capability.
type EvaluatorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GeneratorConfig configures the external text-generation capability.
type GeneratorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory lead store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// EventsConfig selects the accepted-lead event publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"` // "pubsub", "memory", or "" for none
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StreamConfig governs the ingestion worker loop.
type StreamConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
	MaxRetries          int `mapstructure:"max_retries"`
	BackoffInitialMs    int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int `mapstructure:"backoff_max_ms"`
	StopTimeoutSeconds  int `mapstructure:"stop_timeout_seconds"`
	ReaperEnabled       bool `mapstructure:"reaper_enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("reddit.base_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.user_agent", "aitino-leadapi/1.0")
	v.SetDefault("reddit.timeout_seconds", 30)
	v.SetDefault("reddit.subreddits", []string{
		"SaaS", "SaaSy", "startups", "YoungEntrepreneurs",
		"NoCodeSaas", "nocode", "cofounder", "Entrepreneur",
	})
	v.SetDefault("evaluator.timeout_seconds", 30)
	v.SetDefault("generator.timeout_seconds", 60)
	v.SetDefault("db.table", "leads")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("stream.poll_interval_seconds", 15)
	v.SetDefault("stream.fetch_timeout_seconds", 30)
	v.SetDefault("stream.max_retries", 3)
	v.SetDefault("stream.backoff_initial_ms", 250)
	v.SetDefault("stream.backoff_max_ms", 5000)
	v.SetDefault("stream.stop_timeout_seconds", 10)
	v.SetDefault("stream.reaper_enabled", true)
	v.SetDefault("logging.development", false)
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.enabled requires auth.api_key")
	}
	if len(c.Reddit.Subreddits) == 0 {
		return fmt.Errorf("reddit.subreddits must not be empty")
	}
	if c.Stream.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("stream.stop_timeout_seconds must be positive")
	}
	if c.Stream.MaxRetries < 0 {
		return fmt.Errorf("stream.max_retries must not be negative")
	}
	switch c.Events.Provider {
	case "", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.TopicName == "" {
			return fmt.Errorf("events.provider is 'pubsub' but project_id or topic_name is not set")
		}
	default:
		return fmt.Errorf("unknown events provider: %s", c.Events.Provider)
	}
	return nil
}

// FetchTimeout returns the stream fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Stream.FetchTimeoutSeconds) * time.Second
}

// StopTimeout returns the worker stop deadline as a duration.
func (c Config) StopTimeout() time.Duration {
	return time.Duration(c.Stream.StopTimeoutSeconds) * time.Second
}

// PollInterval returns the idle delay between fetch batches.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollIntervalSeconds) * time.Second
}
