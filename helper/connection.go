package helper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConnectionState is the observable state of a store connection.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// ConnectFunc opens a new underlying connection.
type ConnectFunc[T any] func(ctx context.Context) (T, error)

// CloseFunc releases an underlying connection.
type CloseFunc[T any] func(ctx context.Context, conn T) error

// Connection is a two-state (Closed, Open) handle around a store client.
// Any Get while Closed makes exactly one synchronous connect attempt.
// A failed attempt leaves the connection Closed and returns ErrStoreUnavailable.
type Connection[T any] struct {
	name    string
	connect ConnectFunc[T]
	close   CloseFunc[T]
	logger  *slog.Logger

	mu    sync.Mutex
	state ConnectionState
	conn  T
	opens int
}

// NewConnection creates a closed connection. Nothing is dialed until the first Get.
func NewConnection[T any](name string, connect ConnectFunc[T], close CloseFunc[T], logger *slog.Logger) *Connection[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection[T]{
		name:    name,
		connect: connect,
		close:   close,
		logger:  logger,
		state:   StateClosed,
	}
}

// Get returns the open client, connecting first if the connection is closed.
func (c *Connection[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen {
		return c.conn, nil
	}

	var zero T
	conn, err := c.connect(ctx)
	if err != nil {
		c.logger.Warn("Connect failed", slog.String("connection", c.name), slog.String("error", err.Error()))
		return zero, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, c.name, err)
	}

	c.conn = conn
	c.state = StateOpen
	c.opens++
	c.logger.Info("Connection opened", slog.String("connection", c.name), slog.Int("opens", c.opens))

	return conn, nil
}

// InvalidateUnless checks the open client with healthy and moves it back to Closed only if the check fails,
// so the next Get reconnects. It is called when an operation surfaced ErrStoreUnavailable.
func (c *Connection[T]) InvalidateUnless(ctx context.Context, healthy func(ctx context.Context, client T) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return
	}
	err := healthy(ctx, c.conn)
	if err == nil {
		return
	}
	c.release(ctx)
	c.logger.Warn("Connection invalidated", slog.String("connection", c.name), slog.String("error", err.Error()))
}

// Close moves the connection to Closed and releases the client.
func (c *Connection[T]) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return nil
	}
	err := c.release(ctx)
	c.logger.Info("Connection closed", slog.String("connection", c.name))
	return err
}

func (c *Connection[T]) release(ctx context.Context) error {
	var err error
	if c.close != nil {
		err = c.close(ctx, c.conn)
	}
	var zero T
	c.conn = zero
	c.state = StateClosed
	return err
}

// State returns the current state.
func (c *Connection[T]) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Opens returns how many Closed -> Open transitions happened.
func (c *Connection[T]) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}
