package bridge

import (
	"log/slog"
	"sync/atomic"

	"tamo-bridge/internal/framing"
	"tamo-bridge/internal/link"
)

// ImageChannel feeds the image socket into a Reassembler and forwards
// each completed frame to the display sink.
type ImageChannel struct {
	channel

	frames    *framing.Reassembler
	sink      FrameSink
	observer  Observer
	logger    *slog.Logger
	delivered atomic.Uint64
}

// NewImageChannel creates an image channel. Call Start to connect.
func NewImageChannel(cfg ChannelConfig, sink FrameSink, observer Observer) *ImageChannel {
	if observer == nil {
		observer = nopObserver{}
	}
	logger := loggerOrDefault(cfg.Logger).With("channel", ImageChannelName)
	ic := &ImageChannel{
		sink:     sink,
		observer: observer,
		logger:   logger,
	}
	ic.frames = framing.New(
		framing.WithMaxTail(cfg.MaxFrameBytes),
		framing.WithDropFunc(func(err error, dropped int) {
			logger.Warn("dropped oversized frame", "bytes", dropped, "error", err)
		}),
	)
	ic.client = link.New(cfg.linkConfig(ImageChannelName, observer), imageEvents{ic})
	return ic
}

// FramesDelivered returns how many frames reached the sink.
func (ic *ImageChannel) FramesDelivered() uint64 {
	return ic.delivered.Load()
}

// imageEvents keeps the link callbacks off ImageChannel's method set.
type imageEvents struct{ ic *ImageChannel }

func (e imageEvents) OnConnected() {
	// Each connection is a new stream; framing starts at socket start.
	e.ic.discardPartial()
}

func (e imageEvents) OnData(p []byte) {
	for frame := range e.ic.frames.Feed(p) {
		e.ic.sink.OnFrame(frame)
		e.ic.delivered.Add(1)
	}
}

func (e imageEvents) OnDisconnected(err error) {
	e.ic.discardPartial()
}

func (e imageEvents) OnFailedPermanently(err error) {
	e.ic.observer.ChannelFailed(ImageChannelName, err)
}

func (ic *ImageChannel) discardPartial() {
	if n := ic.frames.Reset(); n > 0 {
		ic.logger.Warn("dropped partial frame", "bytes", n)
	}
}
