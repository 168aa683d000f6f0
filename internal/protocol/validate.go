package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeCommandSend:  true,
	TypeActivityTick: true,
	TypeBackendSet:   true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		// An activity tick carries no required fields.
		if msg.Type == TypeActivityTick {
			msg.Payload = json.RawMessage(`{}`)
			return &msg, nil
		}
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeCommandSend:
		var p CommandSendPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Line == "" {
			return nil, fmt.Errorf("missing required field 'line' in %s payload", msg.Type)
		}
		if strings.ContainsAny(p.Line, "\r\n") {
			return nil, fmt.Errorf("field 'line' in %s payload must be a single line", msg.Type)
		}

	case TypeActivityTick:
		var p ActivityTickPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}

	case TypeBackendSet:
		var p BackendSetPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.State == "" {
			return nil, fmt.Errorf("missing required field 'state' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
