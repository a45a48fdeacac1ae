// README: Domain event envelope and publishers (Kafka, log-only, no-op).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	TypeBookingCreated    = "booking.created"
	TypeBookingTransition = "booking.transitioned"
	TypePaymentSettled    = "payment.settled"
	TypeRatingSubmitted   = "rating.submitted"
)

type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Publisher delivers domain events. Callers treat failures as best-effort and log them.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

func New(eventType, key string, data any) Event {
	return Event{Type: eventType, Key: key, OccurredAt: time.Now().UTC(), Data: data}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to the structured log; used when no broker is configured.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Log.WithFields(logrus.Fields{"event": e.Type, "key": e.Key}).Debug("domain event")
	return nil
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

// Publish keys messages by aggregate id so one booking's events stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
