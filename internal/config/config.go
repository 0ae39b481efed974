// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sitescope/scanner/internal/scan"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Env     string        `mapstructure:"env"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Browser BrowserConfig `mapstructure:"browser"`
	Rules   RulesConfig   `mapstructure:"rules"`
	PSI     PSIConfig     `mapstructure:"psi"`
	Store   StoreConfig   `mapstructure:"store"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Events  EventsConfig  `mapstructure:"events"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScanConfig carries scan defaults and hard ceilings.
type ScanConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	DefaultBudgetSec    int    `mapstructure:"default_budget_seconds"`
	MaxTotalIssues      int    `mapstructure:"max_total_issues"`
	EngineTimeoutSec    int    `mapstructure:"engine_timeout_seconds"`
	LowWaterSec         int    `mapstructure:"low_water_seconds"`
	IncludeScreenshots  bool   `mapstructure:"include_screenshots"`
	LinkDiscoveryMaxURL int    `mapstructure:"link_discovery_max_urls"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	ViewportWidth  int     `mapstructure:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
}

// RulesConfig selects the rule backend and audit profile.
type RulesConfig struct {
	// Backend is "browser" (in-page rule library) or "static" (HTML parse).
	Backend string `mapstructure:"backend"`
	// Profile is the ruleset applied when a request does not name one.
	Profile string `mapstructure:"profile"`
}

// PSIConfig configures the external category scorer.
type PSIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	Endpoint          string  `mapstructure:"endpoint"`
	CacheTTLMinutes   int     `mapstructure:"cache_ttl_minutes"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// StoreConfig controls the job store backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	MaxConns       int    `mapstructure:"max_conns"`
	MinConns       int    `mapstructure:"min_conns"`
	JobTTLMinutes  int    `mapstructure:"job_ttl_minutes"`
	ConnLifetimeHr int    `mapstructure:"conn_lifetime_hours"`
}

// BlobConfig controls screenshot artifact persistence.
type BlobConfig struct {
	// Driver is "gcs", "local", or "memory".
	Driver    string `mapstructure:"driver"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

// EventsConfig holds metadata for completion event publishing.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is "pubsub" or "memory".
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// JobsConfig governs the async worker pool.
type JobsConfig struct {
	Workers      int `mapstructure:"workers"`
	QueueSize    int `mapstructure:"queue_size"`
	HeartbeatSec int `mapstructure:"heartbeat_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANNER")
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
	v.SetDefault("env", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("scan.user_agent", "sitescope-scanner/1.0")
	v.SetDefault("scan.default_budget_seconds", 90)
	v.SetDefault("scan.max_total_issues", 400)
	v.SetDefault("scan.engine_timeout_seconds", 25)
	v.SetDefault("scan.low_water_seconds", 5)
	v.SetDefault("scan.include_screenshots", false)
	v.SetDefault("scan.link_discovery_max_urls", 100)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.domain_qps", 2)
	v.SetDefault("rules.backend", "browser")
	v.SetDefault("rules.profile", string(scan.DefaultProfile))
	v.SetDefault("events.driver", "pubsub")
	v.SetDefault("psi.cache_ttl_minutes", 30)
	v.SetDefault("psi.requests_per_second", 1)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.table", "kv_entries")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.job_ttl_minutes", 30)
	v.SetDefault("store.conn_lifetime_hours", 1)
	v.SetDefault("blob.driver", "memory")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.heartbeat_seconds", 2)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scan.DefaultBudgetSec <= 0 {
		return fmt.Errorf("scan.default_budget_seconds must be > 0")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	switch c.Rules.Backend {
	case "browser", "static":
	default:
		return fmt.Errorf("rules.backend must be browser or static, got %q", c.Rules.Backend)
	}
	if _, err := scan.ParseProfile(c.Rules.Profile); err != nil {
		return fmt.Errorf("rules.profile: %w", err)
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is postgres")
		}
	case "memory":
		// Jobs do not survive restarts on the memory driver.
		if c.Production() {
			return fmt.Errorf("store.driver must be postgres when env is production")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	switch c.Blob.Driver {
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket must be set when blob.driver is gcs")
		}
	case "local":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir must be set when blob.driver is local")
		}
	case "memory":
	default:
		return fmt.Errorf("blob.driver must be gcs, local, or memory, got %q", c.Blob.Driver)
	}
	if c.Events.Enabled {
		switch c.Events.Driver {
		case "", "pubsub":
			if c.Events.ProjectID == "" || c.Events.Topic == "" {
				return fmt.Errorf("events.project_id and events.topic must be set when events are enabled")
			}
		case "memory":
			if c.Events.Topic == "" {
				return fmt.Errorf("events.topic must be set when events are enabled")
			}
		default:
			return fmt.Errorf("events.driver must be pubsub or memory, got %q", c.Events.Driver)
		}
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Production reports whether the service runs with production guarantees.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// DefaultBudget returns the scan time budget applied when a request omits one.
func (c Config) DefaultBudget() time.Duration {
	return time.Duration(c.Scan.DefaultBudgetSec) * time.Second
}

// JobTTL returns how long finished jobs stay readable.
func (c Config) JobTTL() time.Duration {
	return time.Duration(c.Store.JobTTLMinutes) * time.Minute
}
