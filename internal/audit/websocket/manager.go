package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/audit"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

// MessageType tags frames exchanged with clients.
type MessageType string

const (
	MessageTypeEvent     MessageType = "event"
	MessageTypeSubscribe MessageType = "subscribe"
	MessageTypeStatus    MessageType = "status"
)

// Message is the frame format on the event stream.
type Message struct {
	Type      MessageType      `json:"type"`
	Event     *audit.Event     `json:"event,omitempty"`
	AssetIDs  []domain.AssetID `json:"asset_ids,omitempty"`
	Status    string           `json:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

var errHubClosed = errors.New("event hub closed")

type envelope struct {
	conn    *Connection
	message Message
}

// Manager streams audit events to websocket clients. It implements audit.Sink.
type Manager struct {
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	connections atomic.Int64
}

// Connection is one subscribed client.
type Connection struct {
	ID      string
	Account domain.Account
	Conn    *websocket.Conn
	Send    chan Message

	mu       sync.Mutex
	assetIDs map[domain.AssetID]struct{}
}

// Hub owns the set of live connections and routes broadcasts to them.
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan Message
	direct      chan envelope
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a manager and starts its hub.
func NewManager(logger *zap.Logger) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan Message, 256),
		direct:      make(chan envelope, 64),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	m := &Manager{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	go m.run()

	return m
}

func (m *Manager) Name() string { return "websocket" }

// Deliver broadcasts ev to every subscribed connection.
func (m *Manager) Deliver(ctx context.Context, ev audit.Event) error {
	msg := Message{Type: MessageTypeEvent, Event: &ev, Timestamp: time.Now().UTC()}

	select {
	case <-m.hub.done:
		return errHubClosed
	default:
	}

	select {
	case m.hub.broadcast <- msg:
		return nil
	case <-m.hub.done:
		return errHubClosed
	case <-ctx.Done():
		return fmt.Errorf("broadcast channel full: %w", ctx.Err())
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := m.HandleConnection(w, r, domain.NewAccount(r.Header.Get("X-Account"))); err != nil {
		m.logger.Warn("Websocket upgrade failed", zap.Error(err))
	}
}

// HandleConnection upgrades the connection for account and starts its pumps.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, account domain.Account) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:       uuid.New().String(),
		Account:  account,
		Conn:     conn,
		Send:     make(chan Message, 256),
		assetIDs: make(map[domain.AssetID]struct{}),
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, errHubClosed
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// ConnectionCount returns the number of registered connections.
func (m *Manager) ConnectionCount() int {
	return int(m.connections.Load())
}

// Close disconnects every client and stops the hub.
func (m *Manager) Close() {
	m.hub.stopOnce.Do(func() {
		close(m.hub.stop)
	})
	<-m.hub.done
}

func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("Websocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		if msg.Type == MessageTypeSubscribe {
			conn.subscribe(msg.AssetIDs)
			m.reply(conn, Message{Type: MessageTypeStatus, Status: "subscribed", AssetIDs: msg.AssetIDs, Timestamp: time.Now().UTC()})
		}
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a direct message through the hub so Send is only ever written
// and closed by the hub goroutine.
func (m *Manager) reply(conn *Connection, msg Message) {
	select {
	case m.hub.direct <- envelope{conn: conn, message: msg}:
	case <-m.hub.done:
	}
}

func (m *Manager) run() {
	h := m.hub
	defer close(h.done)

	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			m.connections.Add(1)
			m.logger.Debug("Websocket connection registered",
				zap.String("connection_id", conn.ID),
				zap.String("account", conn.Account.String()))

		case conn := <-h.unregister:
			m.drop(conn)

		case env := <-h.direct:
			if !h.connections[env.conn] {
				continue
			}
			select {
			case env.conn.Send <- env.message:
			default:
				m.drop(env.conn)
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.wants(message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					m.drop(conn)
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				m.drop(conn)
			}
			return
		}
	}
}

func (m *Manager) drop(conn *Connection) {
	if _, ok := m.hub.connections[conn]; !ok {
		return
	}
	delete(m.hub.connections, conn)
	close(conn.Send)
	m.connections.Add(-1)
}

func (c *Connection) subscribe(ids []domain.AssetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assetIDs = make(map[domain.AssetID]struct{}, len(ids))
	for _, id := range ids {
		c.assetIDs[id] = struct{}{}
	}
}

// wants reports whether message passes the connection's asset filter. An empty
// filter receives every event.
func (c *Connection) wants(message Message) bool {
	if message.Event == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.assetIDs) == 0 {
		return true
	}
	_, ok := c.assetIDs[message.Event.AssetID]
	return ok
}
