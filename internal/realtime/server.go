// Package realtime is the display side of the bridge. It serves a
// WebSocket endpoint that pushes frames, channel status and
// notifications to webview clients and accepts commands and activity
// ticks from them, plus a small REST surface for the same operations.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tamo-bridge/internal/bridge"
	"tamo-bridge/internal/framing"
	"tamo-bridge/internal/link"
	"tamo-bridge/internal/protocol"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	clientSendBuffer = 64
	noticeCapacity   = 20
	frameMime        = "image/png"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Webviews load from custom schemes.
	},
}

// Backend is the bridge as seen by display clients.
type Backend interface {
	SendCommand(line string) error
	SetBackendState(state bridge.BackendState) error
	Status() bridge.Status
}

// ActivitySource accepts qualifying activity events.
type ActivitySource interface {
	Touch()
}

// Server manages WebSocket clients and routes messages between them and
// the bridge. It implements bridge.FrameSink and bridge.Observer.
type Server struct {
	staticDir string
	logger    *slog.Logger

	mu       sync.RWMutex
	backend  Backend
	activity ActivitySource

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// stateMu orders catch-up replay against live publishes so a new
	// client sees each message exactly once. Lock order: stateMu, then
	// clientsMu.
	stateMu sync.Mutex
	catchUp *catchUp
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a realtime server. Attach must be called before commands
// can be routed.
func New(staticDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		staticDir: staticDir,
		logger:    logger.With("component", "realtime"),
		clients:   make(map[*client]bool),
		catchUp:   newCatchUp(noticeCapacity),
	}
}

// Attach connects the server to the bridge and the activity monitor.
// Either may be nil.
func (s *Server) Attach(backend Backend, activity ActivitySource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = backend
	s.activity = activity
}

func (s *Server) attached() (Backend, ActivitySource) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend, s.activity
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /commands", s.handleSendCommand)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /backend", s.handleSetBackend)
	mux.HandleFunc("POST /activity", s.handleActivity)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		server: s,
	}

	// Bring the new client up to date before it can receive broadcasts.
	s.sendBackendStatus(c)
	s.stateMu.Lock()
	for _, msg := range s.catchUp.messages() {
		s.enqueue(c, msg)
	}
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	s.stateMu.Unlock()

	s.logger.Debug("client connected", "client", c.id, "remote_addr", conn.RemoteAddr())

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read failed", "client", c.id, "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	close(c.send)
	s.logger.Debug("client disconnected", "client", c.id)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeCommandSend:
		s.handleWSCommand(c, msg)
	case protocol.TypeActivityTick:
		s.handleWSActivity()
	case protocol.TypeBackendSet:
		s.handleWSBackendSet(c, msg)
	}
}

func (s *Server) handleWSCommand(c *client, msg *protocol.Message) {
	var payload protocol.CommandSendPayload
	json.Unmarshal(msg.Payload, &payload)

	if payload.RequestID == "" {
		payload.RequestID = uuid.New().String()
	}
	result := protocol.CommandResultPayload{
		RequestID: payload.RequestID,
		Line:      payload.Line,
		Delivered: true,
	}
	if err := s.sendCommand(payload.Line); err != nil {
		result.Delivered = false
		result.Error = err.Error()
		result.Code = errorCode(err)
	}

	resp, _ := protocol.NewMessage(protocol.TypeCommandResult, result)
	data, _ := json.Marshal(resp)
	s.enqueue(c, data)
}

func (s *Server) handleWSActivity() {
	if _, activity := s.attached(); activity != nil {
		activity.Touch()
	}
}

func (s *Server) handleWSBackendSet(c *client, msg *protocol.Message) {
	var payload protocol.BackendSetPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.setBackendState(payload.State); err != nil {
		s.sendError(c, errorCode(err), err.Error())
	}
}

// sendCommand routes line to the bridge.
func (s *Server) sendCommand(line string) error {
	backend, _ := s.attached()
	if backend == nil {
		return bridge.ErrBackendNotReady
	}
	return backend.SendCommand(line)
}

var errInvalidState = errors.New("invalid backend state")

// setBackendState applies a state reported by the build supervisor and
// tells every client about it.
func (s *Server) setBackendState(raw string) error {
	state, err := bridge.ParseBackendState(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidState, err)
	}
	backend, _ := s.attached()
	if backend == nil {
		return bridge.ErrBackendNotReady
	}
	if err := backend.SetBackendState(state); err != nil {
		return err
	}

	msg, err := protocol.NewMessage(protocol.TypeBackendStatus, protocol.BackendStatusPayload{State: string(state)})
	if err == nil {
		s.broadcast(msg)
	}
	return nil
}

// errorCode maps bridge errors onto protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, link.ErrNotConnected), errors.Is(err, link.ErrStopped):
		return protocol.ErrNotConnected
	case errors.Is(err, bridge.ErrBackendNotReady), errors.Is(err, bridge.ErrBridgeStopped):
		return protocol.ErrBackendNotReady
	case errors.Is(err, bridge.ErrInvalidLine), errors.Is(err, errInvalidState):
		return protocol.ErrInvalidCommand
	default:
		return protocol.ErrInternal
	}
}

func (s *Server) sendBackendStatus(c *client) {
	state := bridge.BackendNotStarted
	if backend, _ := s.attached(); backend != nil {
		state = backend.Status().Backend
	}
	msg, err := protocol.NewMessage(protocol.TypeBackendStatus, protocol.BackendStatusPayload{State: string(state)})
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	s.enqueue(c, data)
}

// OnFrame encodes a frame for display and pushes it to every client.
func (s *Server) OnFrame(frame framing.Frame) {
	msg, err := protocol.NewMessage(protocol.TypeFrame, protocol.FramePayload{
		Seq:  frame.Seq,
		Mime: frameMime,
		Data: base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.catchUp.setFrame(data)
	s.broadcastRaw(data)
}

// ChannelStateChanged publishes a channel's connection state.
func (s *Server) ChannelStateChanged(channel string, state link.State, attempts int) {
	msg, err := protocol.NewMessage(protocol.TypeChannelStatus, protocol.ChannelStatusPayload{
		Channel:  channel,
		State:    state.String(),
		Attempts: attempts,
	})
	if err != nil {
		return
	}
	s.publish(msg, func(data []byte) { s.catchUp.setStatus(channel, data) })
}

// ChannelFailed raises the single user-visible notification for a
// channel whose retry budget ran out.
func (s *Server) ChannelFailed(channel string, err error) {
	s.logger.Error("channel failed permanently", "channel", channel, "error", err)
	msg, encErr := protocol.NewMessage(protocol.TypeNotification, protocol.NotificationPayload{
		Level:   protocol.LevelError,
		Message: fmt.Sprintf("Could not connect to the %s server. Rebuild or restart the backend to retry.", channel),
	})
	if encErr != nil {
		return
	}
	s.publish(msg, s.catchUp.addNotice)
}

// publish broadcasts msg and lets keep store it for late clients.
func (s *Server) publish(msg *protocol.Message, keep func(data []byte)) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	keep(data)
	s.broadcastRaw(data)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.broadcastRaw(data)
}

func (s *Server) broadcastRaw(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		s.enqueue(c, data)
	}
}

// enqueue hands data to a client's write pump, dropping it if the
// client is not keeping up.
func (s *Server) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		s.logger.Debug("client buffer full, message dropped", "client", c.id)
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)
	s.enqueue(c, data)
}
