package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeFrame         = "frame"
	TypeChannelStatus = "channel.status"
	TypeNotification  = "notification"
	TypeCommandResult = "command.result"
	TypeBackendStatus = "backend.status"
	TypeError         = "error"
)

// Client → Server message types.
const (
	TypeCommandSend  = "command.send"
	TypeActivityTick = "activity.tick"
	TypeBackendSet   = "backend.set"
)

// Error codes.
const (
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrInvalidCommand  = "INVALID_COMMAND"
	ErrNotConnected    = "NOT_CONNECTED"
	ErrBackendNotReady = "BACKEND_NOT_READY"
	ErrInternal        = "INTERNAL"
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Server → Client payloads.

type FramePayload struct {
	Seq  uint64 `json:"seq"`
	Mime string `json:"mime"`
	Data string `json:"data"` // base64
}

type ChannelStatusPayload struct {
	Channel  string `json:"channel"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
}

type NotificationPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type CommandResultPayload struct {
	RequestID string `json:"requestId"`
	Line      string `json:"line"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type BackendStatusPayload struct {
	State string `json:"state"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type CommandSendPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Line      string `json:"line"`
}

type ActivityTickPayload struct {
	Source string `json:"source,omitempty"`
}

type BackendSetPayload struct {
	State string `json:"state"`
}
