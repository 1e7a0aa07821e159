package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, 90, s.RetentionDays)
	assert.Equal(t, 1800, s.SessionIdleSec)
	assert.Equal(t, 0.8, s.AlertThreshold)
	assert.Equal(t, 0.6, s.PatternConfidence)
	assert.Equal(t, 3600, s.MiningWindowSec)
	assert.Equal(t, 30*time.Minute, s.SessionIdleTimeout())
	assert.Equal(t, time.Hour, s.MiningWindow())
	assert.Equal(t, 90*24*time.Hour, s.RetentionWindow())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("KESTREL_ALERT_THRESHOLD", "0.3")
	t.Setenv("KESTREL_SESSION_IDLE_SEC", "600")
	t.Setenv("KESTREL_RETENTION_DAYS", "not-a-number")

	s := FromEnv()
	assert.Equal(t, 0.3, s.AlertThreshold)
	assert.Equal(t, 600, s.SessionIdleSec)
	assert.Equal(t, 90, s.RetentionDays) // unparsable falls back to default
}

func TestManager_HandleChange(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(*testing.T, *Snapshot)
	}{
		{
			name:    "alert threshold as number",
			payload: `{"key":"kestrel.alert_threshold","value":0.5,"updated_by":"ops","timestamp":1700000000}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Equal(t, 0.5, s.AlertThreshold)
			},
		},
		{
			name:    "session idle as string",
			payload: `{"key":"kestrel.session_idle_seconds","value":"900","updated_by":"ops","timestamp":1700000000}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Equal(t, 900, s.SessionIdleSec)
			},
		},
		{
			name:    "unknown key ignored",
			payload: `{"key":"kestrel.bogus","value":1,"timestamp":1700000000}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Equal(t, *Defaults(), func() Snapshot { cp := *s; cp.LastUpdated = time.Time{}; return cp }())
			},
		},
		{
			name:    "malformed payload ignored",
			payload: `{{{`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Equal(t, 0.8, s.AlertThreshold)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Defaults(), testLogger())
			m.HandleChange([]byte(tt.payload))
			tt.check(t, m.Current())
		})
	}
}

func TestManager_SubscriberNotified(t *testing.T) {
	m := NewManager(Defaults(), testLogger())

	var got *Snapshot
	m.Subscribe(func(s *Snapshot) { got = s })

	m.HandleChange([]byte(`{"key":"kestrel.mining_interval_seconds","value":60,"timestamp":1700000000}`))
	if assert.NotNil(t, got) {
		assert.Equal(t, 60, got.MiningIntervalSec)
	}
}

func TestManager_CurrentReturnsCopy(t *testing.T) {
	m := NewManager(Defaults(), testLogger())
	c := m.Current()
	c.AlertThreshold = 0.1
	assert.Equal(t, 0.8, m.Current().AlertThreshold)
}
