package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	connectionName = "clubmailer"
	heartbeat      = 10 * time.Second
)

// Connection holds one AMQP connection and channel, re-dialing lazily when
// the broker drops them.
type Connection struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConnection dials RabbitMQ and opens a channel
func NewConnection(url string, log zerolog.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}

	c := &Connection{url: url, log: log}
	if err := c.open(); err != nil {
		return nil, err
	}

	log.Info().Msg("connected to rabbitmq")
	return c, nil
}

func (c *Connection) open() error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeat,
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn, c.channel = conn, ch
	return nil
}

// Channel returns the live channel, re-dialing first if the connection or
// channel was closed
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alive() {
		return c.channel, nil
	}

	c.log.Warn().Msg("rabbitmq channel closed, reconnecting")
	c.closeLocked()
	if err := c.open(); err != nil {
		return nil, err
	}
	c.log.Info().Msg("reconnected to rabbitmq")
	return c.channel, nil
}

// Close closes the channel and the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.closeLocked()
	c.log.Info().Msg("rabbitmq connection closed")
	return err
}

// IsConnected reports whether both the connection and channel are open
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive()
}

func (c *Connection) alive() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

func (c *Connection) closeLocked() error {
	var errs []error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection: %w", err))
		}
	}
	c.conn, c.channel = nil, nil
	return errors.Join(errs...)
}
