package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// MessageHandler consumes raw inbound messages from a connection. The
// session layer implements it; the manager only moves bytes.
type MessageHandler interface {
	HandleMessage(conn *Connection, data []byte)
}

// ConnectionManager owns every live WebSocket connection and the membership
// of connections in rooms. Broadcasts flow through a single channel drained
// by Start, so members of a room observe events in enqueue order.
type ConnectionManager struct {
	// Connection pools keyed by room code. A connection not yet bound to a
	// room appears in no pool.
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	broadcastCh chan broadcastMessage
}

// Connection represents one participant's WebSocket connection.
type Connection struct {
	ID       string
	Username string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// roomID is the code of the room this connection is bound to, or empty.
	// Guarded by Manager.mu.
	roomID string

	// done is closed exactly once when the connection is torn down. Sends
	// race against teardown, so they select on it instead of the Send
	// channel ever being closed.
	done      chan struct{}
	closeOnce sync.Once

	// limiter throttles inbound messages from this connection.
	limiter *rate.Limiter

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds tunables for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool

	// MessagesPerSecond and MessageBurst bound the inbound message rate per
	// connection. Messages past the limit are rejected with an error event.
	MessagesPerSecond float64
	MessageBurst      int
}

type broadcastMessage struct {
	roomID string
	event  *ServerEvent
}

// DefaultConnectionConfig returns the default WebSocket tunables.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
		MessagesPerSecond: 5,
		MessageBurst:      10,
	}
}

// NewConnectionManager creates a connection manager. Install a handler with
// SetHandler before upgrading any connections.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetHandler installs the inbound message handler.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// Start drains the broadcast channel until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// starts its read and write pumps. The connection starts out bound to no
// room; create_room and join_room messages bind it.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		Manager:     cm,
		limiter:     rate.NewLimiter(rate.Limit(cm.config.MessagesPerSecond), cm.config.MessageBurst),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// Bind moves a connection into a room, removing it from any room it was
// previously bound to.
func (cm *ConnectionManager) Bind(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.removeLocked(conn)
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.roomID = roomID

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("room_connections", len(cm.roomConnections[roomID])).
		Msg("connection bound to room")
}

// unregisterConnection removes a connection from its room pool on
// disconnect and signals its pumps to stop. Room state is never touched.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	cm.removeLocked(conn)
	cm.mu.Unlock()

	conn.closeOnce.Do(func() {
		close(conn.done)
		log.Info().
			Str("connection_id", conn.ID).
			Str("username", conn.Username).
			Msg("connection unregistered")
	})
}

// removeLocked drops a connection from its current room pool. Callers must
// hold cm.mu.
func (cm *ConnectionManager) removeLocked(conn *Connection) {
	if conn.roomID == "" {
		return
	}
	if connections, ok := cm.roomConnections[conn.roomID]; ok {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.roomConnections, conn.roomID)
		}
	}
	conn.roomID = ""
}

// BroadcastToRoom queues an event for every connection bound to a room.
func (cm *ConnectionManager) BroadcastToRoom(roomID string, event *ServerEvent) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomID: roomID, event: event}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

// SendToConnection delivers an event to a single connection.
func (cm *ConnectionManager) SendToConnection(conn *Connection, event *ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	cm.send(conn, data)
}

// handleBroadcast fans an event out to every member of a room. The member
// list is snapshotted under the read lock; the actual sends run lock-free
// so a slow socket cannot stall membership changes.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.roomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		cm.send(conn, data)
	}

	log.Debug().
		Str("event_type", string(message.event.Type)).
		Str("room_id", message.roomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// send delivers raw bytes to a connection, closing it if its send buffer
// is full.
func (cm *ConnectionManager) send(conn *Connection, data []byte) {
	select {
	case <-conn.done:
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("username", conn.Username).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// Stats returns counts of live connections and occupied rooms.
func (cm *ConnectionManager) Stats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.roomConnections {
		totalConnections += len(connections)
	}
	return totalConnections, len(cm.roomConnections)
}

// writePump pushes queued messages and pings to the socket.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads participant actions and hands them to the session layer.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.Manager.SendToConnection(c, errorEvent("Too many requests, slow down"))
			c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
			continue
		}

		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
