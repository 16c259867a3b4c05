package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/dispute/lot"
)

// ErrBroadcastFull is returned by Emit when the broadcast queue is full.
var ErrBroadcastFull = errors.New("gateway: broadcast channel full")

// ConnectionManager manages WebSocket connections of dispute rooms
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan events.Event
}

var _ events.Emitter = (*ConnectionManager)(nil)

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	Viewer    lot.Viewer
	SessionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time
	closeOnce   sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	BroadcastBuffer int
	AllowedOrigins  []string         // empty allows any origin
	Connections     prometheus.Gauge // optional
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		BroadcastBuffer: 1000,
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = 1000
	}
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     checkOrigin(config.AllowedOrigins),
		},
		config:      config,
		broadcastCh: make(chan events.Event, config.BroadcastBuffer),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case ev := <-cm.broadcastCh:
			cm.handleBroadcast(ev)
		}
	}
}

// Emit queues an engine event for the session's room. It never blocks.
func (cm *ConnectionManager) Emit(_ context.Context, ev events.Event) error {
	select {
	case cm.broadcastCh <- ev:
		return nil
	default:
		log.Warn().Str("session_id", ev.SessionID.String()).Str("event_type", string(ev.Type)).Msg("broadcast channel full, dropping message")
		return ErrBroadcastFull
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
// in the session's pool. greeting, if not nil, is the first message sent.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, viewer lot.Viewer, sessionID uuid.UUID, greeting []byte) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Viewer:      viewer,
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	if greeting != nil {
		connection.Send <- greeting
	}

	cm.registerConnection(connection)
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", viewer.UserID).
		Str("role", string(viewer.Role)).
		Str("session_id", sessionID.String()).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	cm.trackLocked()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", len(cm.sessionConnections[conn.SessionID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
	}
	cm.trackLocked()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.Viewer.UserID).
		Str("session_id", conn.SessionID.String()).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) trackLocked() {
	if cm.config.Connections == nil {
		return
	}
	total := 0
	for _, conns := range cm.sessionConnections {
		total += len(conns)
	}
	cm.config.Connections.Set(float64(total))
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.sessionConnections {
		for c := range conns {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()
	for _, c := range all {
		cm.unregisterConnection(c)
	}
}

// handleBroadcast redacts the event for every connection of its session and
// queues the result. Sends happen under the read lock: unregisterConnection
// closes Send only after taking the write lock.
func (cm *ConnectionManager) handleBroadcast(ev events.Event) {
	var slow []*Connection
	delivered, targets := 0, 0

	cm.mu.RLock()
	// one encoding per distinct viewer
	encoded := make(map[lot.Viewer][]byte)
	for conn := range cm.sessionConnections[ev.SessionID] {
		targets++
		data, seen := encoded[conn.Viewer]
		if !seen {
			if msg, ok := Redact(ev, conn.Viewer); ok {
				var err error
				if data, err = json.Marshal(msg); err != nil {
					cm.mu.RUnlock()
					log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event for broadcast")
					return
				}
			}
			encoded[conn.Viewer] = data
		}
		if data == nil {
			continue
		}

		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.Viewer.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.close()
	}

	if targets == 0 {
		return
	}
	log.Debug().
		Str("event_type", string(ev.Type)).
		Str("session_id", ev.SessionID.String()).
		Int("connections", targets).
		Int("delivered", delivered).
		Msg("event broadcasted")
}

// ConnectionStats summarises the open connections.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for id, conns := range cm.sessionConnections {
		stats.TotalConnections += len(conns)
		stats.SessionConnections[id.String()] = len(conns)
	}
	return stats
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
// Clients issue commands through the HTTP API, not the socket.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
