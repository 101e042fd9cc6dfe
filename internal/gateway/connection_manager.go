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

	"github.com/tempohq/cadence/internal/events"
	"github.com/tempohq/cadence/internal/session"
)

// MembershipSource supplies a room's membership. Targets for room-scoped
// delivery are resolved through it at notify time, so a client removed
// earlier in the same transition never receives a trailing broadcast.
type MembershipSource interface {
	Members(roomID string) []string
}

// Session is what the gateway needs from the session coordinator to route
// inbound client events.
type Session interface {
	Connect(clientID string)
	Disconnect(clientID string)
	CreateRoom(clientID string)
	JoinRoom(clientID, roomID string)
	UpdateSettings(clientID string, req events.UpdateSettingsRequest)
	StartMetronome(clientID, roomID string)
	StopMetronome(clientID, roomID string)
	LeaveRoom(clientID, roomID string)
	ActiveRooms(clientID string)
}

// ConnectionManager owns all websocket connections, keyed by the opaque
// client id assigned at upgrade. Delivery is fire-and-forget through a
// buffered channel drained by Start.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	upgrader   websocket.Upgrader
	config     ConnectionConfig
	membership MembershipSource
	session    Session

	deliverCh chan delivery
}

// Connection represents one websocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// delivery is a resolved outbound message: the target list is fixed at
// notify time, the marshaling and socket writes happen on the drain loop.
type delivery struct {
	Targets []string
	Event   events.Type
	Payload any
}

// ConnectionConfig holds websocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a connection manager reading room membership
// from the given source.
func NewConnectionManager(config ConnectionConfig, membership MembershipSource) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		membership: membership,
		deliverCh:  make(chan delivery, 1000),
	}
}

// SetSession wires the coordinator in after construction; the coordinator
// itself needs the manager as its notifier, so the reference is circular.
func (cm *ConnectionManager) SetSession(s Session) {
	cm.session = s
}

// Start drains the delivery channel until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case d := <-cm.deliverCh:
			cm.handleDelivery(d)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket, assigns the
// connection its opaque client id and hands it to the session coordinator.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	// The welcome event must find the connection registered, so this
	// comes last.
	cm.session.Connect(connection.ID)

	log.Info().
		Str("client_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("client_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; exists {
		delete(cm.connections, conn.ID)
		close(conn.Send)

		log.Info().
			Str("client_id", conn.ID).
			Msg("connection unregistered")
	}
}

// NotifyOne enqueues a targeted event for a single client.
func (cm *ConnectionManager) NotifyOne(clientID string, event events.Type, payload any) {
	cm.enqueue(delivery{Targets: []string{clientID}, Event: event, Payload: payload})
}

// NotifyRoom enqueues an event for every current member of a room. The
// membership read happens here, after the coordinator's mutation, not when
// the message is drained.
func (cm *ConnectionManager) NotifyRoom(roomID string, event events.Type, payload any, opts session.RoomNotifyOptions) {
	members := cm.membership.Members(roomID)
	if len(members) == 0 {
		return
	}
	targets := make([]string, 0, len(members))
	for _, clientID := range members {
		if clientID == opts.ExcludeClientID {
			continue
		}
		targets = append(targets, clientID)
	}
	if len(targets) == 0 {
		return
	}
	cm.enqueue(delivery{Targets: targets, Event: event, Payload: payload})
}

// NotifyAll enqueues an event for every connected client, member or not.
// Used only for the active-rooms listing.
func (cm *ConnectionManager) NotifyAll(event events.Type, payload any) {
	cm.mu.RLock()
	targets := make([]string, 0, len(cm.connections))
	for clientID := range cm.connections {
		targets = append(targets, clientID)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	cm.enqueue(delivery{Targets: targets, Event: event, Payload: payload})
}

var _ session.Notifier = (*ConnectionManager)(nil)

func (cm *ConnectionManager) enqueue(d delivery) {
	select {
	case cm.deliverCh <- d:
	default:
		log.Warn().Str("event", string(d.Event)).Msg("delivery channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleDelivery(d delivery) {
	raw, err := encodeEvent(d.Event, d.Payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(d.Event)).Msg("failed to marshal event")
		return
	}

	delivered := 0
	for _, clientID := range d.Targets {
		// The send must happen under the same lock as the registration
		// check: unregisterConnection closes Send under the write lock,
		// so a registered connection cannot have a closed channel here.
		cm.mu.RLock()
		conn, ok := cm.connections[clientID]
		if !ok {
			cm.mu.RUnlock()
			continue
		}

		select {
		case conn.Send <- raw:
			cm.mu.RUnlock()
			delivered++
		default:
			cm.mu.RUnlock()
			// Connection is slow/dead, close it
			log.Warn().
				Str("client_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event", string(d.Event)).
		Int("connections", delivered).
		Msg("event delivered")
}

// encodeEvent frames an event and payload into the wire envelope.
func encodeEvent(event events.Type, payload any) ([]byte, error) {
	env := events.Envelope{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// ConnectionCount reports the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.connections)
}

// dispatch routes one inbound client message to the session coordinator. A
// malformed message is logged and dropped; it never tears down the
// connection or touches other rooms.
func (cm *ConnectionManager) dispatch(clientID string, raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("malformed client message")
		return
	}

	switch env.Type {
	case events.TypeCreateRoom:
		cm.session.CreateRoom(clientID)

	case events.TypeJoinRoom:
		var req events.JoinRoomRequest
		if !decodeData(clientID, env, &req) {
			return
		}
		cm.session.JoinRoom(clientID, req.RoomID)

	case events.TypeUpdateSettings:
		var req events.UpdateSettingsRequest
		if !decodeData(clientID, env, &req) {
			return
		}
		cm.session.UpdateSettings(clientID, req)

	case events.TypeMetronomeStarted:
		var req events.TransportRequest
		if !decodeData(clientID, env, &req) {
			return
		}
		cm.session.StartMetronome(clientID, req.RoomID)

	case events.TypeMetronomeStopped:
		var req events.TransportRequest
		if !decodeData(clientID, env, &req) {
			return
		}
		cm.session.StopMetronome(clientID, req.RoomID)

	case events.TypeLeaveRoom:
		var req events.LeaveRoomRequest
		if !decodeData(clientID, env, &req) {
			return
		}
		cm.session.LeaveRoom(clientID, req.RoomID)

	case events.TypeGetActiveRooms:
		cm.session.ActiveRooms(clientID)

	default:
		log.Warn().
			Str("client_id", clientID).
			Str("event", string(env.Type)).
			Msg("unknown client event")
	}
}

func decodeData(clientID string, env events.Envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		log.Warn().
			Err(err).
			Str("client_id", clientID).
			Str("event", string(env.Type)).
			Msg("malformed event payload")
		return false
	}
	return true
}

// writePump handles sending messages to the websocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("client_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("client_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the websocket connection. Its exit,
// however caused, is the transport-level disconnect that triggers the
// coordinator's leave-equivalent cleanup.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.session.Disconnect(c.ID)
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
					Str("client_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.Manager.dispatch(c.ID, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
