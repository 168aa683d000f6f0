// Package bridge owns the two backend channels: the image channel that
// turns the backend's byte stream into frames for a display sink, and
// the command channel that carries newline-terminated text commands.
//
// A Bridge creates the channels when the backend is reported ready and
// recreates any channel that has failed permanently the next time it is.
package bridge

import (
	"context"
	"log/slog"
	"net"
	"time"

	"tamo-bridge/internal/clock"
	"tamo-bridge/internal/framing"
	"tamo-bridge/internal/link"
)

// Channel names used in logs and status messages.
const (
	ImageChannelName   = "image"
	CommandChannelName = "command"
)

// FrameSink receives every completed frame exactly once, in stream order.
type FrameSink interface {
	OnFrame(frame framing.Frame)
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(frame framing.Frame)

// OnFrame calls f.
func (f SinkFunc) OnFrame(frame framing.Frame) { f(frame) }

// Observer is told about channel lifecycle changes. ChannelFailed is
// called once per channel instance, when its retry budget runs out.
type Observer interface {
	ChannelStateChanged(channel string, state link.State, attempts int)
	ChannelFailed(channel string, err error)
}

type nopObserver struct{}

func (nopObserver) ChannelStateChanged(string, link.State, int) {}
func (nopObserver) ChannelFailed(string, error)                 {}

// ChannelConfig configures one channel.
type ChannelConfig struct {
	Addr        string
	Policy      link.RetryPolicy
	DialTimeout time.Duration

	// MaxFrameBytes bounds the unterminated tail held by the image
	// channel. Zero means unbounded. Ignored by the command channel.
	MaxFrameBytes int

	// Dialer overrides the TCP dialer; used by tests.
	Dialer link.Dialer
	Clock  clock.Clock
	Logger *slog.Logger
}

func (c ChannelConfig) linkConfig(name string, observer Observer) link.Config {
	dialer := c.Dialer
	if dialer == nil && c.DialTimeout > 0 {
		dialer = &net.Dialer{Timeout: c.DialTimeout}
	}
	return link.Config{
		Name:   name,
		Addr:   c.Addr,
		Policy: c.Policy,
		Dialer: dialer,
		Clock:  c.Clock,
		Logger: c.Logger,
		OnStateChange: func(state link.State, attempts int) {
			observer.ChannelStateChanged(name, state, attempts)
		},
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// channel is the part shared by both roles.
type channel struct {
	client *link.Client
}

// Start begins connecting in the background.
func (c *channel) Start(ctx context.Context) { c.client.Start(ctx) }

// Stop cancels pending retries and closes the socket. Idempotent.
func (c *channel) Stop() { c.client.Stop() }

// State returns the connection state.
func (c *channel) State() link.State { return c.client.State() }

// Attempts returns the retries consumed by this instance.
func (c *channel) Attempts() int { return c.client.Attempts() }
