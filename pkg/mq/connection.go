package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "habits"

	dialMaxElapsed = 30 * time.Second
)

// NewConnection dials RabbitMQ, retrying with exponential backoff while the
// broker comes up.
func NewConnection(ctx context.Context, url string, logger *zap.Logger) (*amqp091.Connection, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dialMaxElapsed

	var conn *amqp091.Connection
	err := backoff.Retry(func() error {
		c, err := amqp091.Dial(url)
		if err != nil {
			logger.Warn("RabbitMQ dial failed, retrying", zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
