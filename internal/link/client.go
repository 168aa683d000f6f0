// Package link implements a TCP client role that reconnects with a
// constant delay until its retry budget is spent.
//
// A Client delivers everything through its Events: connection,
// received bytes, disconnection and permanent failure. All callbacks of
// one Client run on the same goroutine, in order, so the consumer can
// keep per-connection state without locking.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"tamo-bridge/internal/clock"
)

const (
	defaultReadBufferSize = 64 * 1024
	defaultDialTimeout    = 2 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// Events receives the lifecycle of a Client.
type Events interface {
	// OnConnected is called once per established connection.
	OnConnected()

	// OnData is called for every chunk read, in arrival order. p is only
	// valid for the duration of the call.
	OnData(p []byte)

	// OnDisconnected is called when an established connection ends for a
	// reason other than Stop.
	OnDisconnected(err error)

	// OnFailedPermanently is called at most once, when the retry budget
	// is exhausted. No further attempts are made.
	OnFailedPermanently(err error)
}

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config describes one client role.
type Config struct {
	// Name identifies the role in logs ("image", "command").
	Name string

	// Addr is the host:port to connect to.
	Addr string

	Policy RetryPolicy

	// Dialer defaults to a net.Dialer with a 2s timeout.
	Dialer Dialer

	// Clock times the retry delay. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	ReadBufferSize int
	WriteTimeout   time.Duration

	// OnStateChange, if set, observes every state transition. It runs on
	// the goroutine that caused the transition.
	OnStateChange func(state State, attempts int)
}

// Client is a single reconnecting TCP client.
type Client struct {
	cfg    Config
	events Events
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	conn     net.Conn
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}

	// writeMu keeps concurrent writes from interleaving.
	writeMu sync.Mutex
}

// New creates a Client. Nothing happens until Start.
func New(cfg Config, events Events) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: defaultDialTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		events: events,
		logger: logger.With("channel", cfg.Name, "addr", cfg.Addr),
		state:  StateDisconnected,
	}
}

// Start begins connection attempts in the background. Outcomes arrive
// through Events. Calling Start more than once, or after Stop, does
// nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop cancels any pending retry and closes an open connection. No
// attempt is made and no event is delivered after Stop returns. Stop is
// idempotent. It must not be called from an Events callback.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of retries consumed. It never decreases
// for the lifetime of the Client, including across successful connects.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Write sends p on the open connection. It returns an error wrapping
// ErrNotConnected when there is none, including when the connection
// closes during the write; nothing is buffered for later delivery.
func (c *Client) Write(p []byte) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	conn := c.conn
	if c.state != StateConnected || conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if _, err := conn.Write(p); err != nil {
		// The peer or Stop closed the socket after the state check.
		if IsExpectedCloseError(err) {
			return fmt.Errorf("write %s: %w: %w", c.cfg.Name, ErrNotConnected, err)
		}
		return fmt.Errorf("write %s: %w", c.cfg.Name, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.setState(StateConnecting)
		conn, err := c.cfg.Dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("connect failed", "attempt", c.Attempts(), "error", err)
		} else {
			if !c.attach(conn) {
				conn.Close()
				c.setState(StateDisconnected)
				return
			}
			c.setState(StateConnected)
			c.logger.Info("connected", "attempt", c.Attempts())
			c.events.OnConnected()

			err = c.readLoop(conn)
			c.detach()
			conn.Close()
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			if IsExpectedCloseError(err) {
				c.logger.Info("connection closed")
			} else {
				c.logger.Warn("connection lost", "error", err)
			}
			c.events.OnDisconnected(err)
		}

		if !c.awaitRetry(ctx, err) {
			return
		}
	}
}

// awaitRetry consumes one unit of the retry budget and waits out the
// delay. It returns false when the client should stop trying.
func (c *Client) awaitRetry(ctx context.Context, cause error) bool {
	c.mu.Lock()
	if c.attempts >= c.cfg.Policy.MaxAttempts {
		c.mu.Unlock()
		c.setState(StateFailedPermanently)
		reason := fmt.Errorf("%s %s after %d retries: %w (last error: %v)",
			c.cfg.Name, c.cfg.Addr, c.cfg.Policy.MaxAttempts, ErrRetryBudgetExhausted, cause)
		c.logger.Error("giving up", "retries", c.cfg.Policy.MaxAttempts, "error", cause)
		c.events.OnFailedPermanently(reason)
		return false
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Debug("retrying", "attempt", attempt, "max_attempts", c.cfg.Policy.MaxAttempts, "delay", c.cfg.Policy.Delay)

	select {
	case <-c.cfg.Clock.After(c.cfg.Policy.Delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.events.OnData(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

// attach publishes conn for Write and Stop. It fails if Stop already ran.
func (c *Client) attach(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	attempts := c.attempts
	hook := c.cfg.OnStateChange
	c.mu.Unlock()

	if hook != nil {
		hook(state, attempts)
	}
}
