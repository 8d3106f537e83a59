// Package eventrelay forwards funnel domain events to a Kafka topic so that
// downstream consumers (CRM sync, reporting) see stage changes, scores and
// sequence deliveries without polling the database.
package eventrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	writeTimeout = 10 * time.Second
	queueSize    = 1024
)

// RelayedEvents lists the event names forwarded to the broker.
var RelayedEvents = []string{
	events.NameLeadCaptured,
	events.NameStageChanged,
	events.NameLeadScored,
	events.NameSignalRecorded,
	events.NameLeadDeleted,
	events.NameSequenceStepSent,
	events.NameSequenceStepFailed,
}

// MessageWriter is the subset of *kafka.Writer the relay uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the value written for every relayed event.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	TenantID   uuid.UUID       `json:"tenantId"`
	LeadID     uuid.UUID       `json:"leadId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Relay hands events to a single background writer, so a slow or unreachable
// broker never holds up the publisher. Events are written in publish order.
type Relay struct {
	writer MessageWriter
	log    *logger.Logger

	mu     sync.Mutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

type queued struct {
	ctx  context.Context
	name string
	msg  kafka.Message
}

// NewWriter builds a Kafka writer for the funnel topic. Messages are keyed by
// lead id, so the hash balancer keeps each lead's events ordered.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.GetKafkaBrokers()...),
		Topic:        cfg.GetKafkaFunnelTopic(),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func New(writer MessageWriter, log *logger.Logger) *Relay {
	r := &Relay{
		writer: writer,
		log:    log,
		queue:  make(chan queued, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Subscribe registers the relay for every relayed event on the bus.
func (r *Relay) Subscribe(bus events.Subscriber) {
	for _, name := range RelayedEvents {
		bus.Subscribe(name, r)
	}
}

// Handle encodes the event and queues it for the writer. It never blocks:
// when the queue is full or the relay is closed the event is dropped and
// logged, and publishing never fails a funnel operation.
func (r *Relay) Handle(ctx context.Context, event events.Event) error {
	msg, err := encode(event)
	if err != nil {
		r.log.Error("event relay: encode failed", "event", event.EventName(), "error", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.WithContext(ctx).Warn("event relay: closed, event dropped", "event", event.EventName(), "event_id", event.EventID())
		return nil
	}
	select {
	case r.queue <- queued{ctx: context.WithoutCancel(ctx), name: event.EventName(), msg: msg}:
	default:
		r.log.WithContext(ctx).Error("event relay: queue full, event dropped", "event", event.EventName(), "event_id", event.EventID())
	}
	return nil
}

func (r *Relay) run() {
	defer close(r.done)
	for item := range r.queue {
		writeCtx, cancel := context.WithTimeout(item.ctx, writeTimeout)
		if err := r.writer.WriteMessages(writeCtx, item.msg); err != nil {
			r.log.WithContext(item.ctx).Error("event relay: write failed", "event", item.name, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events, drains the queue and closes the writer.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.writer.Close()
}

func encode(event events.Event) (kafka.Message, error) {
	le, ok := event.(events.LeadEvent)
	if !ok {
		return kafka.Message{}, fmt.Errorf("event %s is not relayed", event.EventName())
	}
	tenantID, leadID := le.Subject()

	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	value, err := json.Marshal(Envelope{
		ID:         event.EventID(),
		Name:       event.EventName(),
		TenantID:   tenantID,
		LeadID:     leadID,
		OccurredAt: event.OccurredAt().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}

	return kafka.Message{
		Key:   []byte(leadID.String()),
		Value: value,
		Time:  event.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.EventName())},
			{Key: "event-id", Value: []byte(event.EventID().String())},
			{Key: "tenant", Value: []byte(tenantID.String())},
		},
	}, nil
}
