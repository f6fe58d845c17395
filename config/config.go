/*
config.go - Server configuration

PURPOSE:
  Loads the server settings from a YAML file and the environment.
  Engine settings (globally_enabled, financial types, basic tax rate)
  live in the database and are edited through the API; only the rate's
  first-run default is configured here.

LOOKUP ORDER:
  1. The file given with -config, if any
  2. config.yaml in the working directory
  3. config.yaml next to the executable
  4. Built-in defaults (no file is not an error)

  Every key can be overridden by an environment variable prefixed with
  GIFTAID_, dots replaced by underscores: GIFTAID_SERVER_PORT=3000.

EXAMPLE config.yaml:
  server:
    port: 8080
  database:
    path: giftaid.db
  scheduler:
    enabled: true
    interval: 1h
    limit: 500
  giftaid:
    default_basic_tax_rate: "20"
    online_submission: true
*/
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the server settings.
type Config struct {
	Port   int
	DBPath string

	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	SchedulerLimit    int

	// DefaultBasicTaxRate seeds basic_tax_rate when the database has none.
	// Empty leaves the rate unset.
	DefaultBasicTaxRate string

	// OnlineSubmission locks submitted batches against removals.
	OnlineSubmission bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "giftaid.db")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.limit", 500)
	v.SetDefault("giftaid.default_basic_tax_rate", "20")
	v.SetDefault("giftaid.online_submission", true)

	v.SetEnvPrefix("GIFTAID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Printf("[Config] Loaded %s", path)
	} else if file, ok := findConfigFile(); ok {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		log.Printf("[Config] Loaded %s", file)
	} else {
		log.Println("[Config] No config.yaml found, using defaults")
	}

	return fromViper(v)
}

func findConfigFile() (string, bool) {
	candidates := []string{"config.yaml"}
	if execDir, err := filepath.Abs(filepath.Dir(os.Args[0])); err == nil {
		candidates = append(candidates, filepath.Join(execDir, "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                v.GetInt("server.port"),
		DBPath:              v.GetString("database.path"),
		SchedulerEnabled:    v.GetBool("scheduler.enabled"),
		SchedulerInterval:   v.GetDuration("scheduler.interval"),
		SchedulerLimit:      v.GetInt("scheduler.limit"),
		DefaultBasicTaxRate: strings.TrimSpace(v.GetString("giftaid.default_basic_tax_rate")),
		OnlineSubmission:    v.GetBool("giftaid.online_submission"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("database.path: required"))
	}
	if c.SchedulerEnabled && c.SchedulerInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval: must be positive, got %s", c.SchedulerInterval))
	}
	if c.DefaultBasicTaxRate != "" {
		rate, err := decimal.NewFromString(c.DefaultBasicTaxRate)
		if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("giftaid.default_basic_tax_rate: %q is not a percentage", c.DefaultBasicTaxRate))
		}
	}
	return errors.Join(errs...)
}
