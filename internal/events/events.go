// Package events публикует доменные события маркетплейса.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/segmentio/kafka-go"
)

// типы событий
const (
	OrderPlaced    = "order_placed"
	ListingCreated = "listing_created"
	ListingChanged = "listing_changed"
	ListingDeleted = "listing_deleted"
)

type Event struct {
	Type        string            `json:"type"`
	Marketplace string            `json:"marketplace"`
	ActorID     string            `json:"actor_id"`
	EntityID    string            `json:"entity_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Recorder получает исход каждой публикации.
type Recorder interface {
	EventPublished(eventType string, err error)
}

type KafkaPublisher struct {
	log      *slog.Logger
	writer   *kafka.Writer
	recorder Recorder
}

func NewKafkaPublisher(log *slog.Logger, brokers []string, topic string, recorder Recorder) *KafkaPublisher {
	return &KafkaPublisher{
		log: log.With(slog.String("component", "events/kafka")),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
		recorder: recorder,
	}
}

// Publish пишет событие с ключом сущности, чтобы события одного заказа или объявления шли по порядку.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	const op = "events.KafkaPublisher.Publish"

	msg, err := Encode(e)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.writer.WriteMessages(ctx, msg)
	if p.recorder != nil {
		p.recorder.EventPublished(e.Type, err)
	}
	if err != nil {
		p.log.Error("failed to publish event", slog.String("type", e.Type), logger.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode собирает kafka сообщение для e.
func Encode(e Event) (kafka.Message, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.EntityID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "marketplace", Value: []byte(e.Marketplace)},
		},
	}, nil
}

// Nop отбрасывает события, используется без брокеров.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
