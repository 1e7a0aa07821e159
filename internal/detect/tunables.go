package detect

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunables are the knobs of the synchronous heuristic rules. They ship
// with the documented defaults and may be overridden from a YAML file.
type Tunables struct {
	FailedLoginThreshold  int      `yaml:"failed_login_threshold"`
	FailedLoginWindowSec  int      `yaml:"failed_login_window_seconds"`
	CommandFloodThreshold int      `yaml:"command_flood_threshold"`
	CommandFloodWindowSec int      `yaml:"command_flood_window_seconds"`
	LargeTransferBytes    int64    `yaml:"large_transfer_bytes"`
	KnownAddrThreshold    int      `yaml:"known_addr_threshold"`
	WorkdayStartHour      int      `yaml:"workday_start_hour"`
	WorkdayEndHour        int      `yaml:"workday_end_hour"`
	ProcessDenylist       []string `yaml:"process_denylist"`
}

// DefaultTunables returns the built-in rule thresholds.
func DefaultTunables() *Tunables {
	return &Tunables{
		FailedLoginThreshold:  5,
		FailedLoginWindowSec:  900,
		CommandFloodThreshold: 10,
		CommandFloodWindowSec: 300,
		LargeTransferBytes:    100 << 20, // 100 MiB
		KnownAddrThreshold:    3,
		WorkdayStartHour:      6,
		WorkdayEndHour:        22,
		ProcessDenylist: []string{
			"bash", "sh", "zsh", "dash", "ksh",
			"powershell", "pwsh", "cmd.exe",
			"python", "perl", "nc", "ncat", "socat",
		},
	}
}

// FailedLoginWindow returns the brute-force counting window.
func (t *Tunables) FailedLoginWindow() time.Duration {
	return time.Duration(t.FailedLoginWindowSec) * time.Second
}

// CommandFloodWindow returns the command-flood counting window.
func (t *Tunables) CommandFloodWindow() time.Duration {
	return time.Duration(t.CommandFloodWindowSec) * time.Second
}

// LoadTunables reads rule thresholds from a YAML file, layering it over
// the defaults. A missing path returns the defaults unchanged.
func LoadTunables(path string, logger *slog.Logger) (*Tunables, error) {
	t := DefaultTunables()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("tunables file not found, using defaults", "path", path)
			return t, nil
		}
		return nil, fmt.Errorf("read tunables file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse tunables file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tunables file %s: %w", path, err)
	}

	logger.Info("detection tunables loaded", "path", path)
	return t, nil
}

// Validate rejects threshold values that would disable or invert rules.
func (t *Tunables) Validate() error {
	if t.FailedLoginThreshold < 1 {
		return fmt.Errorf("failed_login_threshold must be >= 1, got %d", t.FailedLoginThreshold)
	}
	if t.CommandFloodThreshold < 1 {
		return fmt.Errorf("command_flood_threshold must be >= 1, got %d", t.CommandFloodThreshold)
	}
	if t.FailedLoginWindowSec <= 0 || t.CommandFloodWindowSec <= 0 {
		return fmt.Errorf("rule windows must be positive")
	}
	if t.LargeTransferBytes <= 0 {
		return fmt.Errorf("large_transfer_bytes must be positive, got %d", t.LargeTransferBytes)
	}
	if t.WorkdayStartHour < 0 || t.WorkdayStartHour > 23 ||
		t.WorkdayEndHour < 0 || t.WorkdayEndHour > 24 ||
		t.WorkdayStartHour >= t.WorkdayEndHour {
		return fmt.Errorf("invalid workday hours %d-%d", t.WorkdayStartHour, t.WorkdayEndHour)
	}
	return nil
}

// afterHours reports whether ts falls outside the configured working window.
func (t *Tunables) afterHours(ts time.Time) bool {
	h := ts.Hour()
	return h < t.WorkdayStartHour || h >= t.WorkdayEndHour
}
