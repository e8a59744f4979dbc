// Package queue is the Job Queue: a durable at-least-once work queue with
// per-task manual acknowledgement, persistent messages, and bounded worker
// concurrency. Grounded on the original RabbitMQClient
// (services/common/core/rabbitmq.py), reimplemented against the maintained
// Go AMQP client.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/katashiba/secscan-engine/internal/logging"
)

// ExecuteScanJob is the payload for the "execute_scan_job" task. Metadata
// carries the original's free-form dict (ci_provider, branch, commit_sha,
// changed_files as a list, etc.), so it is untyped at the wire level and
// decoded field-by-field by the consumer.
type ExecuteScanJob struct {
	Project  string                 `json:"project"`
	Path     string                 `json:"path"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecuteTriageJob is the payload for the "execute_triage_job" task.
type ExecuteTriageJob struct {
	ScanID          int64                    `json:"scan_id"`
	Project         string                   `json:"project"`
	SHA             string                   `json:"sha"`
	Findings        []map[string]interface{} `json:"findings"`
	Token           string                   `json:"token"`
	LocalSourcePath string                   `json:"local_source_path,omitempty"`
}

const (
	reconnectDelay = 5 * time.Second
	maxConnectAttempts = 5
)

// Client wraps a durable AMQP connection and channel pair.
type Client struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *logging.Logger
}

// Connect dials url, making up to five attempts with a five-second backoff,
// matching the original RabbitMQClient.connect().
func Connect(url string, log *logging.Logger) (*Client, error) {
	c := &Client{url: url, log: log}
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		if err := c.dial(); err == nil {
			return c, nil
		} else {
			lastErr = err
			if log != nil {
				log.WithField("attempt", attempt).WithError(err).Warn("amqp connect failed, retrying")
			}
			time.Sleep(reconnectDelay)
		}
	}
	return nil, fmt.Errorf("connect amqp after %d attempts: %w", maxConnectAttempts, lastErr)
}

func (c *Client) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.channel = ch
	return nil
}

// DeclareQueue declares a durable queue, idempotent if it already exists
// with the same properties.
func (c *Client) DeclareQueue(name string) error {
	_, err := c.channel.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent JSON message to queueName, declaring the
// queue first and reconnecting once on failure, matching the original's
// single-retry publish behavior.
func (c *Client) Publish(ctx context.Context, queueName string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := c.publishOnce(ctx, queueName, body); err != nil {
		if c.log != nil {
			c.log.WithError(err).Warn("publish failed, reconnecting and retrying once")
		}
		if dialErr := c.dial(); dialErr != nil {
			return fmt.Errorf("reconnect after publish failure: %w", dialErr)
		}
		if err := c.publishOnce(ctx, queueName, body); err != nil {
			return fmt.Errorf("publish after reconnect: %w", err)
		}
	}
	return nil
}

func (c *Client) publishOnce(ctx context.Context, queueName string, body []byte) error {
	if err := c.DeclareQueue(queueName); err != nil {
		return err
	}
	return c.channel.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Handler processes one delivery's body and returns an error to trigger a
// Nack(requeue=false) — a failed scan is not silently retried, to avoid
// duplicate pull requests.
type Handler func(ctx context.Context, body []byte, taskID string, retryCount int) error

// Consume starts consuming queueName with the given prefetch count (bounded
// worker concurrency, default 1), invoking handler for each delivery and
// acking/nacking per its return value. Blocks until ctx is cancelled.
func (c *Client) Consume(ctx context.Context, queueName string, prefetch int, handler Handler) error {
	if err := c.DeclareQueue(queueName); err != nil {
		return err
	}
	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := c.channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", queueName)
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	start := time.Now()
	taskID := fmt.Sprintf("%d", delivery.DeliveryTag)
	retryCount := boolToInt(delivery.Redelivered)

	if c.log != nil {
		c.log.LogQueueTask(ctx, "queue_task_started", taskID, retryCount, 0, nil)
	}

	err := handler(ctx, delivery.Body, taskID, retryCount)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if c.log != nil {
			c.log.LogQueueTask(ctx, "queue_task_failed", taskID, retryCount, duration, err)
		}
		_ = delivery.Nack(false, false)
		return
	}

	if c.log != nil {
		c.log.LogQueueTask(ctx, "queue_task_completed", taskID, retryCount, duration, nil)
	}
	_ = delivery.Ack(false)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
