// Package publish forwards detected timeline events to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, events []model.TimelineEvent) error
	Close() error
}

// New returns a Kafka publisher when enabled, otherwise a no-op.
func New(cfg config.PublishConfig) Publisher {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewKafka(cfg.Brokers, cfg.Topic)
}

type Nop struct{}

func (Nop) Publish(context.Context, []model.TimelineEvent) error { return nil }
func (Nop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	topic  string
	writer messageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish writes one message per event, keyed by merchant so a merchant's
// events stay ordered within a partition.
func (k *Kafka) Publish(ctx context.Context, events []model.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := buildMessages(events)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func buildMessages(events []model.TimelineEvent) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal timeline event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.MerchantID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
				{Key: "severity", Value: []byte(ev.Severity)},
			},
		})
	}
	return msgs, nil
}
