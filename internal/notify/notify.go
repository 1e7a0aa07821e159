// Package notify delivers emitted alerts to downstream consumers. The engine
// treats delivery as best-effort: a slow or disconnected broker never blocks
// event processing.
package notify

import "github.com/kestrelsec/kestrel/internal/model"

// Notifier is the delivery boundary for behavioral alerts.
type Notifier interface {
	Notify(alert *model.BehavioralAlert) error
	Close() error
}

// Noop is a Notifier that discards alerts (used when NATS is not configured).
type Noop struct{}

func (Noop) Notify(*model.BehavioralAlert) error { return nil }

func (Noop) Close() error { return nil }
