package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var ErrNotConnected = errors.New("not connected")

// Config holds NATS configuration
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Client wraps a NATS connection for JSON publishing
type Client struct {
	conn *nats.Conn

	mu         sync.Mutex
	reconnects int
	connected  bool
}

// NewClient connects to NATS
func NewClient(cfg Config) (*Client, error) {
	client := &Client{}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(*nats.Conn) {
			client.mu.Lock()
			client.reconnects++
			client.connected = true
			client.mu.Unlock()
		}),
		nats.DisconnectErrHandler(func(*nats.Conn, error) {
			client.mu.Lock()
			client.connected = false
			client.mu.Unlock()
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client.mu.Lock()
	client.conn = conn
	client.connected = true
	client.mu.Unlock()
	return client, nil
}

// Publish marshals data as JSON and publishes it to subject
func (c *Client) Publish(ctx context.Context, subject string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far
func (c *Client) Flush(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.FlushWithContext(ctx)
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

// Reconnects returns number of reconnections
func (c *Client) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Drain flushes pending messages and closes the connection
func (c *Client) Drain() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.Drain()
}

// Close closes the connection immediately
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
