// Package natsio feeds the engine from the activity event stream.
package natsio

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kestrelsec/kestrel/internal/engine"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/model"
)

// SubjectEvents is the NATS subject activity events arrive on.
const SubjectEvents = "events.activity"

// DefaultQueue is the queue group shared by engine instances.
const DefaultQueue = "kestrel"

// Subscriber consumes activity events from NATS and submits them to the
// engine. Malformed payloads are counted and skipped, never fatal.
type Subscriber struct {
	nc      *nats.Conn
	engine  *engine.Engine
	queue   string
	metrics *metrics.Metrics
	logger  *slog.Logger

	sub *nats.Subscription
}

// NewSubscriber creates a subscriber on the given queue group; an empty
// queue falls back to DefaultQueue. m may be nil.
func NewSubscriber(nc *nats.Conn, eng *engine.Engine, queue string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Subscriber{
		nc:      nc,
		engine:  eng,
		queue:   queue,
		metrics: m,
		logger:  logger,
	}
}

// Subscribe starts consuming until the context is cancelled, then drains
// the subscription so in-flight messages finish processing.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(SubjectEvents, s.queue, s.handleMessage)
	if err != nil {
		s.logger.Error("Failed to subscribe to activity events", "error", err)
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed to activity events", "subject", SubjectEvents, "queue", s.queue)

	<-ctx.Done()

	s.logger.Info("Draining event subscription")
	if err := sub.Drain(); err != nil {
		s.logger.Error("Failed to drain subscription", "error", err)
		return err
	}
	return nil
}

// handleMessage decodes and submits one event. Submission runs with a
// bounded deadline so a stalled store cannot wedge the consumer.
func (s *Subscriber) handleMessage(msg *nats.Msg) {
	var ev model.ActivityEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		if s.metrics != nil {
			s.metrics.EventsInvalid.Inc()
		}
		s.logger.Warn("Discarding malformed event payload",
			"subject", msg.Subject,
			"bytes", len(msg.Data),
			"error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accepted, reason, err := s.engine.SubmitEvent(ctx, &ev)
	if err != nil {
		s.logger.Error("Event submission failed",
			"actor_id", ev.ActorID,
			"reason", reason,
			"error", err)
		return
	}
	if !accepted {
		s.logger.Warn("Event rejected", "actor_id", ev.ActorID, "reason", reason)
	}
}
