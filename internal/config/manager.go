package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Snapshot is the set of engine tunables recognized at runtime.
type Snapshot struct {
	RetentionDays     int       `json:"retention_days"`
	SessionIdleSec    int       `json:"session_idle_seconds"`
	AlertThreshold    float64   `json:"alert_threshold"`
	PatternConfidence float64   `json:"pattern_confidence_threshold"`
	MiningWindowSec   int       `json:"mining_window_seconds"`
	MiningIntervalSec int       `json:"mining_interval_seconds"`
	NotifyQueueSize   int       `json:"notify_queue_size"`
	LastUpdated       time.Time `json:"last_updated,omitempty"`
}

// Defaults returns the documented default configuration.
func Defaults() *Snapshot {
	return &Snapshot{
		RetentionDays:     90,
		SessionIdleSec:    1800,
		AlertThreshold:    0.8,
		PatternConfidence: 0.6,
		MiningWindowSec:   3600,
		MiningIntervalSec: 300,
		NotifyQueueSize:   256,
	}
}

// FromEnv builds a snapshot from environment variables, falling back to
// the defaults for anything unset.
func FromEnv() *Snapshot {
	s := Defaults()
	s.RetentionDays = getEnvInt("KESTREL_RETENTION_DAYS", s.RetentionDays)
	s.SessionIdleSec = getEnvInt("KESTREL_SESSION_IDLE_SEC", s.SessionIdleSec)
	s.AlertThreshold = getEnvFloat("KESTREL_ALERT_THRESHOLD", s.AlertThreshold)
	s.PatternConfidence = getEnvFloat("KESTREL_PATTERN_CONFIDENCE", s.PatternConfidence)
	s.MiningWindowSec = getEnvInt("KESTREL_MINING_WINDOW_SEC", s.MiningWindowSec)
	s.MiningIntervalSec = getEnvInt("KESTREL_MINING_INTERVAL_SEC", s.MiningIntervalSec)
	s.NotifyQueueSize = getEnvInt("KESTREL_NOTIFY_QUEUE_SIZE", s.NotifyQueueSize)
	return s
}

// RetentionWindow returns the event retention window as a duration.
func (s *Snapshot) RetentionWindow() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// SessionIdleTimeout returns the session idle timeout as a duration.
func (s *Snapshot) SessionIdleTimeout() time.Duration {
	return time.Duration(s.SessionIdleSec) * time.Second
}

// MiningWindow returns the mining lookback window as a duration.
func (s *Snapshot) MiningWindow() time.Duration {
	return time.Duration(s.MiningWindowSec) * time.Second
}

// MiningInterval returns the periodic mining cadence as a duration.
func (s *Snapshot) MiningInterval() time.Duration {
	return time.Duration(s.MiningIntervalSec) * time.Second
}

// ChangeMessage is a single-key configuration change delivered over NATS.
type ChangeMessage struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedBy string          `json:"updated_by"`
	Timestamp int64           `json:"timestamp"`
}

// Manager holds the current configuration snapshot and applies live
// updates published on the config.changed subject.
type Manager struct {
	logger      *slog.Logger
	mu          sync.RWMutex
	current     *Snapshot
	subscribers []func(*Snapshot)
}

// NewManager creates a manager seeded with the given snapshot.
func NewManager(seed *Snapshot, logger *slog.Logger) *Manager {
	if seed == nil {
		seed = Defaults()
	}
	return &Manager{logger: logger, current: seed}
}

// Current returns a copy of the current configuration snapshot.
func (m *Manager) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.current
	return &cp
}

// Subscribe registers a callback invoked after each applied change.
func (m *Manager) Subscribe(callback func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, callback)
}

// Listen subscribes to config.changed on the given NATS connection.
func (m *Manager) Listen(nc *nats.Conn) error {
	_, err := nc.Subscribe("config.changed", func(msg *nats.Msg) {
		m.HandleChange(msg.Data)
	})
	if err != nil {
		return err
	}
	m.logger.Info("subscribed to configuration changes", "subject", "config.changed")
	return nil
}

// HandleChange applies a serialized ChangeMessage to the current snapshot.
func (m *Manager) HandleChange(data []byte) {
	var change ChangeMessage
	if err := json.Unmarshal(data, &change); err != nil {
		m.logger.Error("failed to unmarshal config change", "error", err)
		return
	}

	m.mu.Lock()
	next := *m.current
	applied := applyChange(&next, &change, m.logger)
	if applied {
		next.LastUpdated = time.Unix(change.Timestamp, 0)
		m.current = &next
	}
	m.mu.Unlock()

	if applied {
		m.logger.Info("configuration updated live",
			"key", change.Key,
			"updated_by", change.UpdatedBy)
		m.notifySubscribers(&next)
	}
}

func applyChange(s *Snapshot, change *ChangeMessage, logger *slog.Logger) bool {
	switch change.Key {
	case "kestrel.retention_days":
		return decodeInt(change.Value, &s.RetentionDays)
	case "kestrel.session_idle_seconds":
		return decodeInt(change.Value, &s.SessionIdleSec)
	case "kestrel.alert_threshold":
		return decodeFloat(change.Value, &s.AlertThreshold)
	case "kestrel.pattern_confidence_threshold":
		return decodeFloat(change.Value, &s.PatternConfidence)
	case "kestrel.mining_window_seconds":
		return decodeInt(change.Value, &s.MiningWindowSec)
	case "kestrel.mining_interval_seconds":
		return decodeInt(change.Value, &s.MiningIntervalSec)
	default:
		logger.Debug("ignoring unknown configuration key", "key", change.Key)
		return false
	}
}

func decodeInt(raw json.RawMessage, dst *int) bool {
	var v int
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
		return true
	}
	if v, err := strconv.Atoi(string(raw)); err == nil {
		*dst = v
		return true
	}
	return false
}

func decodeFloat(raw json.RawMessage, dst *float64) bool {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
		return true
	}
	if v, err := strconv.ParseFloat(string(raw), 64); err == nil {
		*dst = v
		return true
	}
	return false
}

func (m *Manager) notifySubscribers(s *Snapshot) {
	m.mu.RLock()
	subscribers := make([]func(*Snapshot), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.RUnlock()

	for _, callback := range subscribers {
		callback(s)
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
