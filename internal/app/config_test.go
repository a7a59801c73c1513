package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SNAPSHOT_TIMEZONE", "UTC")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	require.Equal(t, 5*time.Second, cfg.SnapshotDebounce)
	require.Equal(t, 7, cfg.SnapshotBackfillDays)
	require.Equal(t, "orders_changed", cfg.SnapshotNotifyChan)
	require.False(t, cfg.IsProduction())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadConfigRejectsBadTimezone(t *testing.T) {
	t.Setenv("SNAPSHOT_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsEmptyBackfillWindow(t *testing.T) {
	t.Setenv("SNAPSHOT_TIMEZONE", "UTC")
	t.Setenv("SNAPSHOT_BACKFILL_DAYS", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}
