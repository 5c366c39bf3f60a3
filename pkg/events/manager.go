package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/skyhound/recongraph/pkg/metrics"
)

// catchupLimit caps the number of events returned in one catchup response.
// Beyond the limit a catchup.overflow message tells the client to do a full
// REST reload instead of paginating.
const catchupLimit = 200

// CatchupEvent is one durable event row returned by the catchup query.
type CatchupEvent struct {
	ID       int64
	Envelope json.RawMessage
}

// CatchupQuerier queries the durable event log for catchup. Implemented by
// the store's log table accessor.
type CatchupQuerier interface {
	CatchupEvents(ctx context.Context, missionID string, sinceID int64, limit int) ([]CatchupEvent, error)
}

// ConnectionManager manages WebSocket connections and their per-mission
// subscriptions. One instance per process.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	bus          *Bus
	catchup      CatchupQuerier
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed only from the goroutine that owns the
// connection (HandleConnection's read loop and its deferred cleanup), so it
// needs no lock.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]*missionPump
	ctx           context.Context
	cancel        context.CancelFunc
}

// missionPump forwards one bus subscription to the connection.
type missionPump struct {
	sub    *Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConnectionManager creates a connection manager bridging the bus and
// the durable catchup store.
func NewConnectionManager(bus *Bus, catchup CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		bus:          bus,
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade; blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]*missionPump),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Auto catch-up so late subscribers don't miss anything.
		m.handleCatchup(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.handleCatchup(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe attaches the connection to a mission channel: a bus
// subscription is registered first so no event published during catchup is
// lost (duplicates are resolved client-side by event_id).
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	if _, ok := c.subscriptions[channel]; ok {
		return
	}
	missionID := missionFromChannel(channel)
	_, sub := m.bus.Subscribe(missionID, 0)

	pumpCtx, cancel := context.WithCancel(c.ctx)
	pump := &missionPump{sub: sub, cancel: cancel, done: make(chan struct{})}
	c.subscriptions[channel] = pump

	go func() {
		defer close(pump.done)
		for {
			select {
			case <-pumpCtx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				m.sendJSON(c, map[string]any{
					"type":     "event",
					"channel":  channel,
					"sse_id":   ev.ID,
					"envelope": ev.Envelope,
				})
			}
		}
	}()
}

func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	pump, ok := c.subscriptions[channel]
	if !ok {
		return
	}
	delete(c.subscriptions, channel)
	pump.cancel()
	pump.sub.Close()
	<-pump.done
}

// handleCatchup sends durable events after sinceID to the client, capped at
// catchupLimit with an overflow marker.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, sinceID int64) {
	if m.catchup == nil {
		return
	}
	missionID := missionFromChannel(channel)

	rows, err := m.catchup.CatchupEvents(ctx, missionID, sinceID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "mission_id", missionID, "error", err)
		return
	}

	hasMore := len(rows) > catchupLimit
	if hasMore {
		rows = rows[:catchupLimit]
	}

	for _, row := range rows {
		m.sendJSON(c, map[string]any{
			"type":        "event",
			"channel":     channel,
			"db_event_id": row.ID,
			"envelope":    row.Envelope,
		})
	}

	if hasMore {
		m.sendJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll drains and closes every connection with the going-away code.
// Called during graceful shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	metrics.WSConnections.Set(0)
	m.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		_ = c.Conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
	metrics.WSConnections.Set(float64(len(m.connections)))
}

func (m *ConnectionManager) unregister(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	metrics.WSConnections.Set(float64(len(m.connections)))
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.Conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

func missionFromChannel(channel string) string {
	return strings.TrimPrefix(channel, "mission:")
}
