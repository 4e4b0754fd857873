package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"habitledger/pkg/metrics"
	"habitledger/pkg/trace"
	"habitledger/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// RetryTracker counts redeliveries per message; util.RetryCounter implements it.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// MessageDeduper drops redeliveries of already handled messages; util.Deduper implements it.
type MessageDeduper interface {
	AcquireOnce(ctx context.Context, handler string, messageID string) bool
	Release(ctx context.Context, handler string, messageID string)
}

// DeadLetterSink receives messages that will not be retried.
type DeadLetterSink interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string, failedQueue string) error
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger

	retries    RetryTracker
	maxRetries int64
	deadLetter DeadLetterSink
	deduper    MessageDeduper
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(ctx context.Context, url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(ctx, url, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// WithRetryLimit caps redeliveries of a failing message; past the cap the
// message goes to the dead letter sink (or is dropped if sink is nil).
func (c *Consumer) WithRetryLimit(tracker RetryTracker, maxRetries int64, sink DeadLetterSink) *Consumer {
	c.retries = tracker
	c.maxRetries = maxRetries
	c.deadLetter = sink
	return c
}

func (c *Consumer) WithDeduper(d MessageDeduper) *Consumer {
	c.deduper = d
	return c
}

func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",    // server-generated consumer tag
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue.Name)
			}
			c.process(ctx, msg)
		}
	}
}

// process guarantees every message is acked or nacked exactly once.
func (c *Consumer) process(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok {
		ctx = trace.WithContext(ctx, traceID)
	}
	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("message_id", msg.MessageId),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			if err := msg.Nack(false, false); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	dedup := c.deduper != nil && msg.MessageId != ""
	if dedup && !c.deduper.AcquireOnce(ctx, c.queue.Name, msg.MessageId) {
		_ = msg.Ack(false)
		return
	}

	err := c.handler(ctx, msg.Body)
	metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	if err == nil {
		if c.retries != nil && msg.MessageId != "" {
			_ = c.retries.Reset(ctx, util.FormatRetryKey(c.queue.Name, msg.MessageId))
		}
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
		}
		return
	}

	if dedup {
		c.deduper.Release(ctx, c.queue.Name, msg.MessageId)
	}
	retryable, kind := util.IsRetryableError(err)
	if retryable && c.retries != nil && msg.MessageId != "" {
		count, rerr := c.retries.IncrementAndGet(ctx, util.FormatRetryKey(c.queue.Name, msg.MessageId))
		if rerr == nil {
			retryable = util.ShouldRetry(count, c.maxRetries, true)
		}
	}
	log.Error("Handler error",
		zap.Error(err),
		zap.String("error_type", kind),
		zap.Bool("requeue", retryable),
	)

	if retryable {
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if c.deadLetter != nil {
		if dlqErr := c.deadLetter.PublishToDLQ(ctx, c.routingKey, msg.Body, err.Error(), c.queue.Name); dlqErr != nil {
			log.Error("Failed to publish to DLQ, requeueing", zap.Error(dlqErr))
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}
	if err := msg.Nack(false, false); err != nil {
		log.Error("Failed to nack message", zap.Error(err))
	}
}
