// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Datastore backends.
const (
	BackendRest     = "rest"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Datastore DatastoreConfig `yaml:"datastore"`
	Auth      AuthConfig      `yaml:"auth"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatastoreConfig selects and configures the loaner datastore.
type DatastoreConfig struct {
	Backend        string        `yaml:"backend"` // "rest", "postgres" or "mongo"
	SupabaseURL    string        `yaml:"supabase_url"`
	SupabaseKey    string        `yaml:"supabase_key"`
	DatabaseURL    string        `yaml:"database_url"`
	MongoURI       string        `yaml:"mongo_uri"`
	MongoDatabase  string        `yaml:"mongo_db"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AuthConfig contains dashboard token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// WebhookConfig contains vendor webhook settings
type WebhookConfig struct {
	DealerwareSecret string        `yaml:"dealerware_secret"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
}

// DashboardConfig contains polling intervals
type DashboardConfig struct {
	ActiveInterval  time.Duration `yaml:"active_interval"`
	HistoryInterval time.Duration `yaml:"history_interval"`
}

// MQTTConfig contains event bus settings; an empty broker disables it.
type MQTTConfig struct {
	BrokerURL   string        `yaml:"broker_url"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// MissingError lists required settings that are not configured.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing configuration: " + strings.Join(e.Keys, ", ")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080", ShutdownTimeout: 10 * time.Second},
		Datastore: DatastoreConfig{Backend: BackendRest, MongoDatabase: "loaner", RequestTimeout: 10 * time.Second},
		Auth:      AuthConfig{TokenTTL: time.Hour},
		Webhook:   WebhookConfig{RateLimit: 120, RateWindow: time.Minute},
		Dashboard: DashboardConfig{ActiveInterval: 30 * time.Second, HistoryInterval: 60 * time.Second},
		MQTT:      MQTTConfig{TopicPrefix: "loaner/events", Timeout: 10 * time.Second},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. configPath may be empty; envFile is loaded
// when it exists and never overrides variables already in the environment.
func Load(configPath, envFile string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() error {
	setString(&c.Server.Port, "PORT")

	setString(&c.Datastore.Backend, "DATASTORE_BACKEND")
	setString(&c.Datastore.SupabaseURL, "SUPABASE_URL")
	setString(&c.Datastore.SupabaseKey, "SUPABASE_KEY")
	setString(&c.Datastore.DatabaseURL, "DATABASE_URL")
	setString(&c.Datastore.MongoURI, "MONGO_URI")
	setString(&c.Datastore.MongoDatabase, "MONGO_DB")

	setString(&c.Auth.JWTSecret, "SUPABASE_JWT_SECRET")
	setString(&c.Webhook.DealerwareSecret, "DEALERWARE_SECRET")
	setString(&c.MQTT.BrokerURL, "MQTT_BROKER_URL")
	setString(&c.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if err := setDuration(&c.Dashboard.ActiveInterval, "ACTIVE_POLL_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Dashboard.HistoryInterval, "HISTORY_POLL_INTERVAL"); err != nil {
		return err
	}
	if val := os.Getenv("WEBHOOK_RATE_LIMIT"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("WEBHOOK_RATE_LIMIT: %w", err)
		}
		c.Webhook.RateLimit = n
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setDuration(dst *time.Duration, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks if the configuration is valid. Missing datastore
// credentials are not an error here; see DatastoreConfig.Missing.
func (c *Config) Validate() error {
	switch c.Datastore.Backend {
	case BackendRest, BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("unknown datastore backend %q", c.Datastore.Backend)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Dashboard.ActiveInterval <= 0 || c.Dashboard.HistoryInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Webhook.RateLimit < 0 {
		return fmt.Errorf("invalid webhook rate limit: %d", c.Webhook.RateLimit)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

// Missing names the credentials the selected backend needs but does not
// have, using their environment variable names.
func (d DatastoreConfig) Missing() []string {
	var missing []string
	switch d.Backend {
	case BackendPostgres:
		if d.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendMongo:
		if d.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		if d.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if d.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_KEY")
		}
	}
	return missing
}

// RequireDatastore returns a MissingError when Missing is non-empty.
func (d DatastoreConfig) RequireDatastore() error {
	if keys := d.Missing(); len(keys) > 0 {
		return &MissingError{Keys: keys}
	}
	return nil
}
