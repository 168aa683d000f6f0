package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tamo-bridge/internal/link"
)

// BackendState is what the external build supervisor reports about the
// backend process.
type BackendState string

const (
	BackendNotStarted BackendState = "not_started"
	BackendBuilding   BackendState = "building"
	BackendRunning    BackendState = "running"
)

// ParseBackendState validates s.
func ParseBackendState(s string) (BackendState, error) {
	switch state := BackendState(s); state {
	case BackendNotStarted, BackendBuilding, BackendRunning:
		return state, nil
	}
	return "", fmt.Errorf("unknown backend state: %q", s)
}

var (
	// ErrBackendNotReady is returned by SendCommand before any command
	// channel exists.
	ErrBackendNotReady = errors.New("backend not ready")

	// ErrBridgeStopped is returned after Stop.
	ErrBridgeStopped = errors.New("bridge stopped")
)

// Config configures both channels.
type Config struct {
	Image   ChannelConfig
	Command ChannelConfig
	Logger  *slog.Logger
}

// ChannelStatus is a snapshot of one channel instance.
type ChannelStatus struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Frames   uint64 `json:"frames,omitempty"`
}

// Status is a snapshot of the bridge.
type Status struct {
	Backend BackendState   `json:"backend"`
	Image   *ChannelStatus `json:"image,omitempty"`
	Command *ChannelStatus `json:"command,omitempty"`
}

// Bridge holds the authoritative backend state and the channel instances
// that follow from it.
type Bridge struct {
	cfg      Config
	sink     FrameSink
	observer Observer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	backend   BackendState
	image     *ImageChannel
	imageID   string
	command   *CommandChannel
	commandID string
	stopped   bool
}

// New creates a Bridge in BackendNotStarted. Channels are created by
// SetBackendState(BackendRunning).
func New(ctx context.Context, cfg Config, sink FrameSink, observer Observer) *Bridge {
	if observer == nil {
		observer = nopObserver{}
	}
	logger := loggerOrDefault(cfg.Logger)
	if cfg.Image.Logger == nil {
		cfg.Image.Logger = logger
	}
	if cfg.Command.Logger == nil {
		cfg.Command.Logger = logger
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Bridge{
		cfg:      cfg,
		sink:     sink,
		observer: observer,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		backend:  BackendNotStarted,
	}
}

// SetBackendState records the backend state. Entering BackendRunning
// starts any channel that does not exist yet or has failed permanently;
// healthy channels are left alone. Entering any other state stops and
// drops both channels.
func (b *Bridge) SetBackendState(state BackendState) error {
	if _, err := ParseBackendState(string(state)); err != nil {
		return err
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBridgeStopped
	}
	previous := b.backend
	b.backend = state

	var retired []interface{ Stop() }
	var started []interface{ Start(context.Context) }

	if state == BackendRunning {
		if b.image == nil || b.image.State() == link.StateFailedPermanently {
			if b.image != nil {
				retired = append(retired, b.image)
			}
			b.image = NewImageChannel(b.cfg.Image, b.sink, b.observer)
			b.imageID = uuid.New().String()
			started = append(started, b.image)
			b.logger.Info("image channel created", "instance", b.imageID, "addr", b.cfg.Image.Addr)
		}
		if b.command == nil || b.command.State() == link.StateFailedPermanently {
			if b.command != nil {
				retired = append(retired, b.command)
			}
			b.command = NewCommandChannel(b.cfg.Command, b.observer)
			b.commandID = uuid.New().String()
			started = append(started, b.command)
			b.logger.Info("command channel created", "instance", b.commandID, "addr", b.cfg.Command.Addr)
		}
	} else {
		if b.image != nil {
			retired = append(retired, b.image)
		}
		if b.command != nil {
			retired = append(retired, b.command)
		}
		b.image, b.imageID = nil, ""
		b.command, b.commandID = nil, ""
	}
	ctx := b.ctx
	b.mu.Unlock()

	if previous != state {
		b.logger.Info("backend state changed", "from", previous, "to", state)
	}
	for _, ch := range retired {
		ch.Stop()
	}
	for _, ch := range started {
		ch.Start(ctx)
	}
	return nil
}

// SendCommand sends line on the current command channel.
func (b *Bridge) SendCommand(line string) error {
	b.mu.Lock()
	command := b.command
	stopped := b.stopped
	b.mu.Unlock()

	if stopped {
		return ErrBridgeStopped
	}
	if command == nil {
		return ErrBackendNotReady
	}
	return command.Send(line)
}

// Status returns a snapshot of the backend and channel states.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{Backend: b.backend}
	if b.image != nil {
		status.Image = &ChannelStatus{
			Instance: b.imageID,
			State:    b.image.State().String(),
			Attempts: b.image.Attempts(),
			Frames:   b.image.FramesDelivered(),
		}
	}
	if b.command != nil {
		status.Command = &ChannelStatus{
			Instance: b.commandID,
			State:    b.command.State().String(),
			Attempts: b.command.Attempts(),
		}
	}
	return status
}

// Stop stops both channels. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	image, command := b.image, b.command
	b.mu.Unlock()

	b.cancel()
	if image != nil {
		image.Stop()
	}
	if command != nil {
		command.Stop()
	}
}
