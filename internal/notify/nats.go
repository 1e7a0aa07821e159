package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/model"
)

// SubjectAlerts is the NATS subject behavioral alerts are published on.
const SubjectAlerts = "alerts.behavioral"

// NATSPublisher publishes alerts to NATS from a bounded queue. When the
// queue is full the oldest pending alert is dropped so that ingestion is
// never back-pressured by the broker.
type NATSPublisher struct {
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan *model.BehavioralAlert
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewNATSPublisher starts the delivery worker. queueSize bounds the number
// of alerts waiting for the broker; m may be nil.
func NewNATSPublisher(conn *nats.Conn, queueSize int, logger *slog.Logger, m *metrics.Metrics) *NATSPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &NATSPublisher{
		conn:    conn,
		logger:  logger,
		metrics: m,
		queue:   make(chan *model.BehavioralAlert, queueSize),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Notify enqueues an alert for delivery. It never blocks: when the queue is
// full the oldest queued alert is discarded to make room.
func (p *NATSPublisher) Notify(alert *model.BehavioralAlert) error {
	for {
		select {
		case <-p.done:
			return fmt.Errorf("notifier closed")
		default:
		}
		select {
		case p.queue <- alert:
			return nil
		default:
		}
		select {
		case dropped := <-p.queue:
			if p.metrics != nil {
				p.metrics.NotifyDropped.Inc()
			}
			p.logger.Warn("Dropped queued alert",
				"alert_id", dropped.ID,
				"actor_id", dropped.ActorID)
		default:
		}
	}
}

// Close stops the worker after the queue drains.
func (p *NATSPublisher) Close() error {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *NATSPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case alert := <-p.queue:
			p.publish(alert)
		case <-p.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case alert := <-p.queue:
					p.publish(alert)
				default:
					return
				}
			}
		}
	}
}

func (p *NATSPublisher) publish(alert *model.BehavioralAlert) {
	if p.conn == nil || !p.conn.IsConnected() {
		if p.metrics != nil {
			p.metrics.NotifyDropped.Inc()
		}
		p.logger.Warn("NATS connection not available, alert dropped", "alert_id", alert.ID)
		return
	}

	data, err := json.Marshal(alert)
	if err != nil {
		p.logger.Error("Failed to marshal alert", "alert_id", alert.ID, "error", err)
		return
	}

	headers := nats.Header{}
	headers.Set("x-alert-id", alert.ID)
	headers.Set("x-actor-id", alert.ActorID)
	headers.Set("x-category", alert.Category)
	headers.Set("x-severity", strconv.Itoa(alert.Severity))
	headers.Set("x-timestamp", alert.Timestamp.Format(time.RFC3339))

	msg := &nats.Msg{
		Subject: SubjectAlerts,
		Data:    data,
		Header:  headers,
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		if p.metrics != nil {
			p.metrics.NotifyDropped.Inc()
		}
		p.logger.Error("Failed to publish alert", "alert_id", alert.ID, "error", err)
		return
	}

	if p.metrics != nil {
		p.metrics.NotifyPublished.Inc()
	}
	p.logger.Info("Published alert",
		"alert_id", alert.ID,
		"actor_id", alert.ActorID,
		"category", alert.Category,
		"severity", alert.Severity,
		"subject", SubjectAlerts)
}
