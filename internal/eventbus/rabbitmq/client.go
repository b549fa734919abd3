// Package rabbitmq wraps the AMQP connection with reconnect handling and
// an asynchronous publish-retry queue.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client manages one AMQP connection and channel, reconnecting when the
// broker drops the link.
type Client struct {
	cfg     Config
	conn    *amqp.Connection
	channel *amqp.Channel

	connMu sync.RWMutex
	done   chan struct{}

	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Connect dials the broker, opens a channel and declares the exchange.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	var err error
	c.conn, err = amqp.DialConfig(c.cfg.URL, amqp.Config{
		Vhost:     c.cfg.VHost,
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.declareExchange(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	go c.monitorConnection(ctx)

	c.logger.Info("rabbitmq connected", "exchange", c.cfg.ExchangeName)
	return nil
}

func (c *Client) declareExchange() error {
	return c.channel.ExchangeDeclare(
		c.cfg.ExchangeName,
		c.cfg.ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

func (c *Client) monitorConnection(ctx context.Context) {
	connCloseChan := c.conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err := <-connCloseChan:
		if err != nil {
			c.logger.Warn("rabbitmq connection closed", "err", err)
			c.reconnect(ctx)
		}
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Client) reconnect(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReconnectDelay)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			attempts++
			if c.cfg.MaxReconnect > 0 && attempts > c.cfg.MaxReconnect {
				c.logger.Error("max reconnect attempts reached", "attempts", attempts)
				return
			}
			if err := c.Connect(ctx); err != nil {
				c.logger.Warn("reconnect failed", "attempt", attempts, "err", err)
				continue
			}
			c.logger.Info("reconnect success", "attempt", attempts)
			return
		}
	}
}

// PublishWithContext publishes one message on the configured exchange.
func (c *Client) PublishWithContext(ctx context.Context, routingKey string, data []byte) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if c.channel == nil || c.channel.IsClosed() {
		return fmt.Errorf("channel not ready")
	}

	return c.channel.PublishWithContext(
		ctx,
		c.cfg.ExchangeName,
		routingKey,
		c.cfg.Mandatory,
		c.cfg.Immediate,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: c.cfg.DeliveryMode,
			Body:         data,
			Timestamp:    time.Now(),
		},
	)
}

func (c *Client) Close() error {
	close(c.done)
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
