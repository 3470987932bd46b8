package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
)

const (
	EventGeneration = "generation"
	EventTierChange = "tier_change"
)

// UsageEvent is published once per admitted generation and per tier change.
type UsageEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Identity  string    `json:"identity"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher is a fire-and-forget Kafka producer. With no brokers
// configured it is a no-op; publish failures are logged, never surfaced.
type EventPublisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

func NewEventPublisher(cfg *config.Config, logger *logrus.Logger) *EventPublisher {
	p := &EventPublisher{logger: logger}

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("Usage event publishing disabled: no Kafka brokers configured")
		return p
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{}, // key by identity so one user's events stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}

	return p
}

func (p *EventPublisher) Publish(eventType, identity, detail string) {
	if p.writer == nil {
		return
	}

	event := UsageEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Identity:  identity,
		Detail:    detail,
		Timestamp: time.Now(),
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal usage event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	message := kafka.Message{
		Key:   []byte(identity),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"identity":   identity,
		}).Error("Failed to publish usage event")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
		"identity":   identity,
	}).Debug("Usage event published")
}

func (p *EventPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close event writer: %w", err)
	}
	return nil
}
