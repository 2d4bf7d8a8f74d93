package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrMalformed marks a delivery whose body is not a valid run request.
var ErrMalformed = errors.New("malformed run request")

// RunHandler processes a single run request
type RunHandler func(ctx context.Context, req *RunRequest) error

// Consumer consumes run requests from a RabbitMQ queue
type Consumer struct {
	conn      *Connection
	queueName string
	handler   RunHandler
	log       zerolog.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler RunHandler, log zerolog.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		log:       log,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start starts consuming run requests. Cancelling ctx aborts the run in
// progress; Stop waits for it to settle.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	// One run at a time per worker.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				c.log.Info().Msg("consumer stopping")
				return
			case <-ctx.Done():
				c.log.Info().Msg("consumer context cancelled")
				return
			case d, ok := <-msgs:
				if !ok {
					c.log.Warn().Msg("delivery channel closed")
					return
				}
				c.handle(ctx, d)
			}
		}
	}()

	c.log.Info().Str("queue", c.queueName).Msg("consumer started")
	return nil
}

// Stop stops consuming gracefully
func (c *Consumer) Stop() error {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	<-c.doneChan

	c.log.Info().Msg("consumer stopped")
	return nil
}

// handle settles a delivery. Malformed bodies are dropped. A failed run is
// requeued once; a redelivered one that fails again is dropped, the next
// trigger picks the tenant's queue up anyway.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.processMessage(ctx, d)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Error().Err(ackErr).Msg("failed to ack delivery")
		}
	case errors.Is(err, ErrMalformed):
		c.log.Error().Err(err).Msg("dropping malformed delivery")
		if rejErr := d.Reject(false); rejErr != nil {
			c.log.Error().Err(rejErr).Msg("failed to reject delivery")
		}
	default:
		requeue := !d.Redelivered
		c.log.Error().Err(err).Bool("requeue", requeue).Msg("run request failed")
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			c.log.Error().Err(nackErr).Msg("failed to nack delivery")
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, d amqp.Delivery) error {
	var req RunRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.TenantID == "" {
		return fmt.Errorf("%w: missing tenant_id", ErrMalformed)
	}

	if err := c.handler(ctx, &req); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}
	return nil
}
