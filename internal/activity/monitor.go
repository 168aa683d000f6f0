// Package activity turns a stream of document-change ticks into
// typing started / typing idle status lines.
package activity

import (
	"log/slog"
	"sync"
	"time"

	"tamo-bridge/internal/clock"
)

const (
	DefaultDebounce    = 1500 * time.Millisecond
	DefaultStartedLine = "status:typing"
	DefaultIdleLine    = "status:idle"
)

// TypingState is the monitor's view of the user.
type TypingState int

const (
	Idle TypingState = iota
	Active
)

func (s TypingState) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Sender delivers a status line. The bridge's command channel is the
// production Sender.
type Sender interface {
	Send(line string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(line string) error

// Send calls f.
func (f SenderFunc) Send(line string) error { return f(line) }

// Config configures a Monitor.
type Config struct {
	Debounce    time.Duration
	StartedLine string
	IdleLine    string
	Clock       clock.Clock
	Logger      *slog.Logger

	// OnTransition, if set, observes each Idle/Active edge.
	OnTransition func(TypingState)
}

// Monitor is a debounced idle detector. The first tick while Idle moves
// to Active and sends StartedLine; Idle is re-entered, sending IdleLine,
// only after Debounce passes with no tick. Repeated ticks while Active
// only push the deadline back.
type Monitor struct {
	cfg    Config
	sender Sender
	logger *slog.Logger

	mu      sync.Mutex
	state   TypingState
	timer   *clock.Timer
	gen     uint64
	stopped bool

	// pending holds edges not yet sent. Whoever finds flushing unset
	// drains it outside mu, so sends keep edge order without blocking
	// Touch.
	pending  []edge
	flushing bool
}

type edge struct {
	state TypingState
	line  string
}

// NewMonitor creates a Monitor in the Idle state.
func NewMonitor(cfg Config, sender Sender) *Monitor {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.StartedLine == "" {
		cfg.StartedLine = DefaultStartedLine
	}
	if cfg.IdleLine == "" {
		cfg.IdleLine = DefaultIdleLine
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		sender: sender,
		logger: logger.With("component", "activity"),
	}
}

// Touch records one qualifying event.
func (m *Monitor) Touch() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen

	var flush bool
	if m.state == Idle {
		m.state = Active
		flush = m.queue(Active, m.cfg.StartedLine)
	}
	m.timer = m.cfg.Clock.AfterFunc(m.cfg.Debounce, func() { m.expire(gen) })
	m.mu.Unlock()

	if flush {
		m.flush()
	}
}

// State returns the current typing state.
func (m *Monitor) State() TypingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop cancels the pending idle timer. Later ticks are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// expire fires when the debounce interval elapses. A timer that was
// superseded by a later Touch carries a stale generation and is ignored.
func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	if m.stopped || gen != m.gen || m.state != Active {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.timer = nil
	flush := m.queue(Idle, m.cfg.IdleLine)
	m.mu.Unlock()

	if flush {
		m.flush()
	}
}

// queue records an edge with m.mu held. It reports whether the caller
// must run flush.
func (m *Monitor) queue(state TypingState, line string) bool {
	m.pending = append(m.pending, edge{state: state, line: line})
	if m.flushing {
		return false
	}
	m.flushing = true
	return true
}

// flush delivers queued edges in order without holding m.mu.
func (m *Monitor) flush() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.flushing = false
			m.mu.Unlock()
			return
		}
		e := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.emit(e)
	}
}

func (m *Monitor) emit(e edge) {
	m.logger.Debug("typing state changed", "state", e.state)
	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(e.state)
	}
	if m.sender == nil {
		return
	}
	if err := m.sender.Send(e.line); err != nil {
		m.logger.Debug("status line not delivered", "line", e.line, "error", err)
	}
}
