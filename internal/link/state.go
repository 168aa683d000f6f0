package link

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// State is the connection lifecycle of one Client.
//
//	Disconnected -> Connecting        connect attempt issued
//	Connecting   -> Connected         socket established
//	Connecting   -> Disconnected      connect failed
//	Connected    -> Disconnected      stream closed or errored
//	Disconnected -> FailedPermanently retry budget exhausted
//
// FailedPermanently is terminal for the Client instance.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailedPermanently
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailedPermanently:
		return "failed"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds reconnection. Delay is constant between attempts.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

var (
	// ErrNotConnected is returned by Write when the client has no open
	// connection. The data is not queued.
	ErrNotConnected = errors.New("not connected")

	// ErrRetryBudgetExhausted is the reason passed to OnFailedPermanently.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrStopped is returned by Write after Stop.
	ErrStopped = errors.New("client stopped")
)

// IsExpectedCloseError reports whether err is an ordinary connection
// teardown (EOF, closed, broken pipe, reset) rather than a fault worth
// logging loudly.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
