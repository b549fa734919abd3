package rabbitmq

import (
	"context"
	"log/slog"
	"time"
)

// Publisher publishes events and diverts failures into the retry queue so
// a broker hiccup never blocks the ingestion path.
type Publisher struct {
	client     *Client
	retryQueue *RetryQueue
	logger     *slog.Logger
}

func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: NewClient(cfg, logger),
		logger: logger,
	}
}

func (p *Publisher) Start(ctx context.Context) error {
	if err := p.client.Connect(ctx); err != nil {
		return err
	}
	p.retryQueue = NewRetryQueue(p.client.cfg, p.client, p.logger)
	p.retryQueue.Start(ctx)
	return nil
}

// Publish attempts one publish; on failure the message is queued for
// retry and nil is returned.
func (p *Publisher) Publish(ctx context.Context, routingKey string, data []byte) error {
	if err := p.client.PublishWithContext(ctx, routingKey, data); err != nil {
		p.logger.Warn("publish failed, enqueuing retry",
			"routing_key", routingKey, "err", err)
		p.retryQueue.Enqueue(routingKey, data)
	}
	return nil
}

// PublishAsync publishes from a fresh goroutine with a bounded timeout.
func (p *Publisher) PublishAsync(routingKey string, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Publish(ctx, routingKey, data)
	}()
}

func (p *Publisher) Close() error {
	if p.retryQueue != nil {
		p.retryQueue.Close()
	}
	return p.client.Close()
}
