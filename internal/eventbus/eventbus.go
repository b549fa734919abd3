// Package eventbus publishes gateway events to downstream consumers over
// RabbitMQ. Publishing is best-effort and never blocks ingestion.
package eventbus

import (
	"context"
	"log/slog"

	"github.com/zboyco/gt06hub/internal/eventbus/events"
	"github.com/zboyco/gt06hub/internal/eventbus/rabbitmq"
)

type EventBus interface {
	Publish(eventType events.EventType, data []byte) error
	PublishAsync(eventType events.EventType, data []byte)
	Close() error
}

type rabbitEventBus struct {
	publisher *rabbitmq.Publisher
	logger    *slog.Logger
}

// New connects to the broker and returns a ready bus.
func New(cfg rabbitmq.Config, logger *slog.Logger) (EventBus, error) {
	bus := &rabbitEventBus{
		publisher: rabbitmq.NewPublisher(cfg, logger),
		logger:    logger,
	}
	if err := bus.publisher.Start(context.Background()); err != nil {
		return nil, err
	}
	return bus, nil
}

func (b *rabbitEventBus) Publish(eventType events.EventType, data []byte) error {
	return b.publisher.Publish(context.Background(), string(eventType), data)
}

func (b *rabbitEventBus) PublishAsync(eventType events.EventType, data []byte) {
	b.publisher.PublishAsync(string(eventType), data)
}

func (b *rabbitEventBus) Close() error {
	return b.publisher.Close()
}
