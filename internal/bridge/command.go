package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tamo-bridge/internal/link"
)

// ErrInvalidLine is returned for a command containing a line break.
var ErrInvalidLine = errors.New("command must be a single line")

// CommandChannel sends newline-terminated commands to the backend.
// Delivery is best effort: a line sent while disconnected is reported as
// failed and is not queued.
type CommandChannel struct {
	channel

	observer Observer
	logger   *slog.Logger
}

// NewCommandChannel creates a command channel. Call Start to connect.
func NewCommandChannel(cfg ChannelConfig, observer Observer) *CommandChannel {
	if observer == nil {
		observer = nopObserver{}
	}
	cc := &CommandChannel{
		observer: observer,
		logger:   loggerOrDefault(cfg.Logger).With("channel", CommandChannelName),
	}
	cc.client = link.New(cfg.linkConfig(CommandChannelName, observer), commandEvents{cc})
	return cc
}

// Send writes line followed by "\n". It returns an error wrapping
// link.ErrNotConnected when the channel is not connected, in which case
// nothing is written.
func (cc *CommandChannel) Send(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("send %q: %w", line, ErrInvalidLine)
	}
	if err := cc.client.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("send %q: %w", line, err)
	}
	cc.logger.Debug("command sent", "line", line)
	return nil
}

type commandEvents struct{ cc *CommandChannel }

func (e commandEvents) OnConnected() {}

func (e commandEvents) OnData(p []byte) {
	e.cc.logger.Debug("ignoring backend output", "bytes", len(p))
}

func (e commandEvents) OnDisconnected(err error) {}

func (e commandEvents) OnFailedPermanently(err error) {
	e.cc.observer.ChannelFailed(CommandChannelName, err)
}
