/*
Package config centralises runtime configuration for the binaries.

PRECEDENCE (later wins):
  1. Defaults
  2. YAML file (optional; missing file is not an error)
  3. .env file loaded into the process environment
  4. PUNCHCLOCK_* environment variables
  5. Command-line flags, applied by cmd/*

ENVIRONMENT:
  PUNCHCLOCK_PORT                   HTTP port
  PUNCHCLOCK_DB                     SQLite path
  PUNCHCLOCK_DEFAULT_TENANT         Tenant when a request names none
  PUNCHCLOCK_CORS_ORIGINS           Comma separated
  PUNCHCLOCK_SCHEDULER              1/true enables periodic reconciliation
  PUNCHCLOCK_SCHEDULER_INTERVAL     Go duration, e.g. 15m
  PUNCHCLOCK_SCHEDULER_TENANTS      Comma separated
  PUNCHCLOCK_WORKERS                Reconciliation worker pool size
  PUNCHCLOCK_PREFIX_MATCH           Unique-prefix fallback in the directory
  PUNCHCLOCK_ABSENT_NO_SCHEDULE     Write absent rows when no schedule exists
  PUNCHCLOCK_EXPORT_LANG            Default CSV export language
  PUNCHCLOCK_SEED                   Seed file applied at startup
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PUNCHCLOCK_"

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Tenants  []string      `yaml:"tenants"`
}

type ReconcileConfig struct {
	Workers                     int  `yaml:"workers"`
	PrefixMatch                 bool `yaml:"prefix_match"`
	RecordAbsentWithoutSchedule bool `yaml:"absent_without_schedule"`
}

type Config struct {
	Logger *log.Logger `yaml:"-"`

	Port          string          `yaml:"port"`
	DBPath        string          `yaml:"db_path"`
	DefaultTenant string          `yaml:"default_tenant"`
	CORSOrigins   []string        `yaml:"cors_origins"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
	Reconcile     ReconcileConfig `yaml:"reconcile"`
	ExportLang    string          `yaml:"export_lang"`
	SeedFile      string          `yaml:"seed_file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Logger:        log.New(os.Stdout, "", log.LstdFlags),
		Port:          "8080",
		DBPath:        "punchclock.db",
		DefaultTenant: "default",
		CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		Scheduler: SchedulerConfig{
			Interval: time.Hour,
		},
		Reconcile: ReconcileConfig{
			Workers: 4,
		},
		ExportLang: "en",
	}
}

// Load builds the configuration. path and envFile may be empty; a missing
// file at either path is skipped.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv overlays PUNCHCLOCK_* variables read through getenv.
func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(envPrefix + key)) }

	if v := env("PORT"); v != "" {
		c.Port = v
	}
	if v := env("DB"); v != "" {
		c.DBPath = v
	}
	if v := env("DEFAULT_TENANT"); v != "" {
		c.DefaultTenant = v
	}
	if v := env("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := env("SCHEDULER"); v != "" {
		c.Scheduler.Enabled = parseBool(v)
	}
	if v := env("SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSCHEDULER_INTERVAL: %w", envPrefix, err)
		}
		c.Scheduler.Interval = d
	}
	if v := env("SCHEDULER_TENANTS"); v != "" {
		c.Scheduler.Tenants = splitList(v)
	}
	if v := env("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWORKERS: %w", envPrefix, err)
		}
		c.Reconcile.Workers = n
	}
	if v := env("PREFIX_MATCH"); v != "" {
		c.Reconcile.PrefixMatch = parseBool(v)
	}
	if v := env("ABSENT_NO_SCHEDULE"); v != "" {
		c.Reconcile.RecordAbsentWithoutSchedule = parseBool(v)
	}
	if v := env("EXPORT_LANG"); v != "" {
		c.ExportLang = v
	}
	if v := env("SEED"); v != "" {
		c.SeedFile = v
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	if c.Reconcile.Workers < 1 {
		return fmt.Errorf("reconcile workers must be at least 1, got %d", c.Reconcile.Workers)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", c.Scheduler.Interval)
	}
	return nil
}

// SchedulerTenants returns the tenants the scheduler reconciles, falling
// back to the default tenant.
func (c *Config) SchedulerTenants() []string {
	if len(c.Scheduler.Tenants) > 0 {
		return c.Scheduler.Tenants
	}
	return []string{c.DefaultTenant}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
