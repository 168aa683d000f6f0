package realtime

import (
	"encoding/json"
	"net/http"

	"tamo-bridge/internal/protocol"
)

type sendCommandRequest struct {
	Line string `json:"line"`
}

type setBackendRequest struct {
	State string `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorPayload{Code: code, Message: message})
}

// statusFor maps a bridge error onto an HTTP status.
func statusFor(err error) int {
	switch errorCode(err) {
	case protocol.ErrInvalidCommand:
		return http.StatusBadRequest
	case protocol.ErrNotConnected, protocol.ErrBackendNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}

	if req.Line == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidCommand, "line is required")
		return
	}

	if err := s.sendCommand(req.Line); err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	backend, _ := s.attached()
	if backend == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrBackendNotReady, "bridge not attached")
		return
	}
	writeJSON(w, http.StatusOK, backend.Status())
}

func (s *Server) handleSetBackend(w http.ResponseWriter, r *http.Request) {
	var req setBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidMessage, "invalid request body")
		return
	}

	if err := s.setBackendState(req.State); err != nil {
		writeError(w, statusFor(err), errorCode(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"state": req.State})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if _, activity := s.attached(); activity != nil {
		activity.Touch()
	}
	w.WriteHeader(http.StatusNoContent)
}
