package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds engine configuration.
type Config struct {
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Events    EventsConfig
	Timezone  string
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string
	MigrationsPath string `mapstructure:"migrations_path"`
}

// SchedulerConfig controls the background sweep loop.
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// EventsConfig holds domain-event delivery settings. An empty broker list
// routes events to the log.
type EventsConfig struct {
	Brokers []string
}

// Load reads configuration from file and env. Env var overrides use prefix
// COOPLEDGER_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "coopledger", "coopledger.db"))
	v.SetDefault("database.migrations_path", "internal/database/migrations")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("timezone", "UTC")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("COOPLEDGER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "coopledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("COOPLEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
