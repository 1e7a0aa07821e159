package detect

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadTunables_Defaults(t *testing.T) {
	tun, err := LoadTunables("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, tun.FailedLoginThreshold)
	assert.Equal(t, int64(100<<20), tun.LargeTransferBytes)
	assert.Contains(t, tun.ProcessDenylist, "bash")
}

func TestLoadTunables_MissingFileFallsBack(t *testing.T) {
	tun, err := LoadTunables(filepath.Join(t.TempDir(), "absent.yaml"), testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultTunables(), tun)
}

func TestLoadTunables_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
failed_login_threshold: 3
command_flood_window_seconds: 60
process_denylist: ["bash", "nc"]
`), 0o644))

	tun, err := LoadTunables(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, tun.FailedLoginThreshold)
	assert.Equal(t, 60, tun.CommandFloodWindowSec)
	assert.Equal(t, []string{"bash", "nc"}, tun.ProcessDenylist)
	// Untouched values keep their defaults.
	assert.Equal(t, int64(100<<20), tun.LargeTransferBytes)
}

func TestLoadTunables_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero threshold", "failed_login_threshold: 0"},
		{"negative window", "command_flood_window_seconds: -5"},
		{"inverted workday", "workday_start_hour: 23\nworkday_end_hour: 6"},
		{"bad yaml", "::::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tunables.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadTunables(path, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestTunables_AfterHours(t *testing.T) {
	tun := DefaultTunables()
	assert.True(t, tun.afterHours(nighttime))
	assert.False(t, tun.afterHours(daytime))
	// Boundary: 22:00 is already after hours, 06:00 is not.
	assert.True(t, tun.afterHours(daytime.Add(8*time.Hour)))   // 22:00
	assert.False(t, tun.afterHours(daytime.Add(-8*time.Hour))) // 06:00
}
