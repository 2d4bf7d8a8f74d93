package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes dispatch run requests to RabbitMQ
type Publisher struct {
	conn      *Connection
	queueName string
}

// RunRequest asks a worker to run the dispatcher once for a tenant.
// Zero limits fall back to the worker's configured defaults.
type RunRequest struct {
	TenantID    string    `json:"tenant_id"`
	MaxPerRun   int       `json:"max_per_run,omitempty"`
	BatchSize   int       `json:"batch_size,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewPublisher creates a new publisher instance
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:      conn,
		queueName: queueName,
	}, nil
}

// PublishRun publishes a run request to the queue
func (p *Publisher) PublishRun(ctx context.Context, req RunRequest) error {
	msg, err := encodeRunRequest(req)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish run request: %w", err)
	}

	return nil
}

// Close closes the publisher (no-op, connection managed externally)
func (p *Publisher) Close() error {
	return nil
}

func encodeRunRequest(req RunRequest) (amqp.Publishing, error) {
	if req.TenantID == "" {
		return amqp.Publishing{}, errors.New("tenant id cannot be empty")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal run request: %w", err)
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    req.RequestedAt,
		Body:         body,
	}, nil
}

// declareQueue declares the durable, non-auto-delete queue shared by
// publishers and consumers.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}
