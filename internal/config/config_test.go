package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("COOPLEDGER_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, ".local", "share", "coopledger", "coopledger.db"), cfg.Database.Path)
	require.Equal(t, "internal/database/migrations", cfg.Database.MigrationsPath)
	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	require.Empty(t, cfg.Events.Brokers)
	require.Equal(t, "UTC", cfg.Timezone)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.toml")
	data := `
timezone = "Africa/Nairobi"

[database]
path = "/var/lib/coopledger/ledger.db"
migrations_path = "migrations"

[scheduler]
enabled = false
interval = "1h"

[events]
brokers = ["localhost:9092", "localhost:9093"]
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	t.Setenv("COOPLEDGER_CONFIG", file)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/coopledger/ledger.db", cfg.Database.Path)
	require.Equal(t, "migrations", cfg.Database.MigrationsPath)
	require.False(t, cfg.Scheduler.Enabled)
	require.Equal(t, time.Hour, cfg.Scheduler.Interval)
	require.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Events.Brokers)
	require.Equal(t, "Africa/Nairobi", cfg.Timezone)

	// Environment beats the file.
	t.Setenv("COOPLEDGER_SCHEDULER_INTERVAL", "30m")
	t.Setenv("COOPLEDGER_TIMEZONE", "UTC")

	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	require.Equal(t, "UTC", cfg.Timezone)
}
