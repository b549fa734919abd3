package rabbitmq

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// RetryTask is one message awaiting republication.
type RetryTask struct {
	RoutingKey string
	Data       []byte
	Attempts   int
	NextRetry  time.Time
}

// RetryQueue holds failed publishes and replays them with exponential
// backoff. The buffer is bounded; overflow drops the newest task.
type RetryQueue struct {
	cfg    Config
	client *Client
	queue  chan *RetryTask
	wg     sync.WaitGroup
	done   chan struct{}
	logger *slog.Logger
}

func NewRetryQueue(cfg Config, client *Client, logger *slog.Logger) *RetryQueue {
	return &RetryQueue{
		cfg:    cfg,
		client: client,
		queue:  make(chan *RetryTask, cfg.RetryQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (rq *RetryQueue) Start(ctx context.Context) {
	rq.wg.Add(1)
	go rq.processRetry(ctx)
}

func (rq *RetryQueue) processRetry(ctx context.Context) {
	defer rq.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	pending := make([]*RetryTask, 0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-rq.done:
			return
		case task := <-rq.queue:
			pending = append(pending, task)
		case <-ticker.C:
			now := time.Now()
			remaining := make([]*RetryTask, 0, len(pending))

			for _, task := range pending {
				if now.Before(task.NextRetry) {
					remaining = append(remaining, task)
					continue
				}

				err := rq.client.PublishWithContext(ctx, task.RoutingKey, task.Data)
				if err != nil {
					task.Attempts++
					if task.Attempts < rq.cfg.RetryMaxAttempts {
						task.NextRetry = now.Add(rq.calculateBackoff(task.Attempts))
						remaining = append(remaining, task)
						rq.logger.Warn("publish retry failed",
							"routing_key", task.RoutingKey,
							"attempt", task.Attempts,
							"err", err)
					} else {
						rq.logger.Error("publish max retries exceeded",
							"routing_key", task.RoutingKey,
							"attempts", task.Attempts,
							"err", err)
					}
				} else {
					rq.logger.Debug("publish retry success",
						"routing_key", task.RoutingKey,
						"attempt", task.Attempts)
				}
			}
			pending = remaining
		}
	}
}

func (rq *RetryQueue) calculateBackoff(attempts int) time.Duration {
	delay := rq.cfg.RetryInitialDelay * time.Duration(math.Pow(2, float64(attempts-1)))
	if delay > rq.cfg.RetryMaxDelay {
		delay = rq.cfg.RetryMaxDelay
	}
	return delay
}

// Enqueue adds a task, dropping it when the buffer is full.
func (rq *RetryQueue) Enqueue(routingKey string, data []byte) {
	task := &RetryTask{
		RoutingKey: routingKey,
		Data:       data,
		NextRetry:  time.Now(),
	}

	select {
	case rq.queue <- task:
		rq.logger.Debug("task enqueued for retry", "routing_key", routingKey)
	default:
		rq.logger.Warn("retry queue full, dropping task", "routing_key", routingKey)
	}
}

func (rq *RetryQueue) Close() {
	close(rq.done)
	rq.wg.Wait()
}
