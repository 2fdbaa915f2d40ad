// Package config loads the daemon configuration: YAML file first, then
// FETCHARR_* environment overrides for the deployment-sensitive values.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration tree.
type Config struct {
	Log         Log         `yaml:"log"`
	Database    Database    `yaml:"database"`
	SecretKey   string      `yaml:"secretKey"`
	Ops         Ops         `yaml:"ops"`
	Prowlarr    Prowlarr    `yaml:"prowlarr"`
	Queue       Queue       `yaml:"queue"`
	Reconnect   Reconnect   `yaml:"reconnect"`
	Commands    Commands    `yaml:"commands"`
	Maintenance Maintenance `yaml:"maintenance"`
	Backup      Backup      `yaml:"backup"`
	Scheduler   Scheduler   `yaml:"scheduler"`
}

// Log selects output level and format.
type Log struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Database points at the PostgreSQL store.
type Database struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// Ops configures the operational HTTP listener.
type Ops struct {
	Listen string `yaml:"listen"`
	// TrustProxyHeaders enables X-Forwarded-For/X-Real-IP client
	// attribution. Only safe behind a proxy that strips inbound values.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders"`
	// BasicAuthUser/BasicAuthPasswordHash guard /metrics when set. The hash
	// is an Argon2id PHC string; generate one with fetcharrd -hash-password.
	BasicAuthUser         string `yaml:"basicAuthUser"`
	BasicAuthPasswordHash string `yaml:"basicAuthPasswordHash"`
}

// Prowlarr points at the indexer manager whose health gates dispatching.
type Prowlarr struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
}

// Queue tunes the dispatch state machine.
type Queue struct {
	MaxAttempts      int             `yaml:"maxAttempts"`
	CooldownBase     time.Duration   `yaml:"cooldownBase"`
	CooldownMax      time.Duration   `yaml:"cooldownMax"`
	OrphanStaleAfter time.Duration   `yaml:"orphanStaleAfter"`
	TierDelays       []time.Duration `yaml:"tierDelays"`
	NoResultsMarkers []string        `yaml:"noResultsMarkers"`
}

// Reconnect tunes the offline-connector probe schedule.
type Reconnect struct {
	BackoffBase time.Duration `yaml:"backoffBase"`
	BackoffMax  time.Duration `yaml:"backoffMax"`
}

// Commands tunes the command monitor.
type Commands struct {
	Timeout   time.Duration `yaml:"timeout"`
	Retention time.Duration `yaml:"retention"`
}

// Maintenance tunes retention horizons and compaction.
type Maintenance struct {
	SearchHistoryRetention time.Duration `yaml:"searchHistoryRetention"`
	AppLogRetention        time.Duration `yaml:"appLogRetention"`
	VacuumFull             bool          `yaml:"vacuumFull"`
}

// Backup tunes the scheduled pg_dump job.
type Backup struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	Retention int    `yaml:"retention"`
	Cron      string `yaml:"cron"`
}

// Scheduler tunes shutdown behaviour.
type Scheduler struct {
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

// Default returns the configuration used when the file omits a value.
func Default() Config {
	return Config{
		Log:      Log{Level: "info", Format: "json"},
		Database: Database{MaxOpenConns: 25, MaxIdleConns: 25, ConnMaxLifetime: time.Hour},
		Ops:      Ops{Listen: ":9090"},
		Queue: Queue{
			MaxAttempts:      10,
			CooldownBase:     15 * time.Minute,
			CooldownMax:      24 * time.Hour,
			OrphanStaleAfter: 10 * time.Minute,
			TierDelays:       []time.Duration{7 * 24 * time.Hour, 30 * 24 * time.Hour, 90 * 24 * time.Hour},
			NoResultsMarkers: []string{"no results", "0 reports downloaded"},
		},
		Reconnect:   Reconnect{BackoffBase: 30 * time.Second, BackoffMax: time.Hour},
		Commands:    Commands{Timeout: 24 * time.Hour, Retention: 7 * 24 * time.Hour},
		Maintenance: Maintenance{SearchHistoryRetention: 90 * 24 * time.Hour, AppLogRetention: 14 * 24 * time.Hour},
		Backup:      Backup{Retention: 7, Cron: "0 5 * * *"},
		Scheduler:   Scheduler{ShutdownGrace: 30 * time.Second},
	}
}

// Load reads the YAML file (optional), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployments override the file without editing it. Only the
// values that differ per environment are exposed.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FETCHARR_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("FETCHARR_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("FETCHARR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FETCHARR_OPS_LISTEN"); v != "" {
		cfg.Ops.Listen = v
	}
	if v := os.Getenv("FETCHARR_TRUST_PROXY_HEADERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ops.TrustProxyHeaders = b
		}
	}
	if v := os.Getenv("FETCHARR_OPS_USER"); v != "" {
		cfg.Ops.BasicAuthUser = v
	}
	if v := os.Getenv("FETCHARR_OPS_PASSWORD_HASH"); v != "" {
		cfg.Ops.BasicAuthPasswordHash = v
	}
	if v := os.Getenv("FETCHARR_PROWLARR_URL"); v != "" {
		cfg.Prowlarr.URL = v
	}
	if v := os.Getenv("FETCHARR_PROWLARR_API_KEY"); v != "" {
		cfg.Prowlarr.APIKey = v
	}
	if v := os.Getenv("FETCHARR_BACKUP_DIR"); v != "" {
		cfg.Backup.Directory = v
		cfg.Backup.Enabled = true
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required (or FETCHARR_DATABASE_DSN)")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("config: secretKey is required (or FETCHARR_SECRET_KEY)")
	}
	if len(c.SecretKey) != 64 {
		return fmt.Errorf("config: secretKey must be 64 hex characters (32 bytes), got %d", len(c.SecretKey))
	}
	if _, err := hex.DecodeString(c.SecretKey); err != nil {
		return fmt.Errorf("config: secretKey must be hex: %w", err)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("config: queue.maxAttempts must be positive")
	}
	if len(c.Queue.TierDelays) == 0 {
		return fmt.Errorf("config: queue.tierDelays must not be empty")
	}
	if c.Ops.BasicAuthPasswordHash != "" && !strings.HasPrefix(c.Ops.BasicAuthPasswordHash, "$argon2id$") {
		return fmt.Errorf("config: ops.basicAuthPasswordHash must be an argon2id PHC string")
	}
	return nil
}

// TierDelayMap converts the ordered tier delay list into the map the queue
// engine consumes (tier numbers start at 1).
func (c *Config) TierDelayMap() map[int]time.Duration {
	out := make(map[int]time.Duration, len(c.Queue.TierDelays))
	for i, d := range c.Queue.TierDelays {
		out[i+1] = d
	}
	return out
}
