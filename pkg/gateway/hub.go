package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"chatwire/pkg/logger"
	"chatwire/pkg/metrics"
	"chatwire/pkg/models"
)

// Hub tracks live connections and logical session rooms. A user may hold
// several connections at once (one per device); joining a room is per
// connection, and fan-out to a room reaches every member connection.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Conn               // connID -> conn
	users     map[string]map[string]*Conn    // userID -> connID -> conn
	rooms     map[string]map[string]*Conn    // sessionID -> connID -> conn
	connRooms map[string]map[string]struct{} // connID -> set of sessionIDs
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*Conn),
		users:     make(map[string]map[string]*Conn),
		rooms:     make(map[string]map[string]*Conn),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers a connection and starts its write loop. Existing
// connections of the same user keep running; devices are independent.
func (h *Hub) Attach(conn *Conn) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	devs := h.users[conn.UserID]
	if devs == nil {
		devs = make(map[string]*Conn)
		h.users[conn.UserID] = devs
	}
	devs[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()
	metrics.ConnectionsOpen.Inc()
	logger.Info("conn_attached", "conn", conn.ID, "user", conn.UserID, "role", conn.Role)
}

// Detach removes a connection from every room and from the user set.
// Idempotent; safe to call from a deferred teardown path.
func (h *Hub) Detach(conn *Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn.ID]
	if ok {
		h.detachLocked(conn.ID)
	}
	h.mu.Unlock()
	if ok {
		metrics.ConnectionsOpen.Dec()
		logger.Info("conn_detached", "conn", conn.ID, "user", conn.UserID)
	}
}

// Join adds the connection to the session room. Reports false when the
// connection is no longer tracked.
func (h *Hub) Join(sessionID, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return false
	}
	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[string]*Conn)
		h.rooms[sessionID] = room
	}
	room[connID] = conn
	h.connRooms[connID][sessionID] = struct{}{}
	return true
}

// Leave removes the connection from the session room.
func (h *Hub) Leave(sessionID, connID string) {
	h.mu.Lock()
	h.leaveLocked(sessionID, connID)
	h.mu.Unlock()
}

// InRoom reports whether the connection is attached to the session room.
func (h *Hub) InRoom(sessionID, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[sessionID][connID]
	return ok
}

// Broadcast marshals the event once and fans it out to every connection
// in the session room. exceptUserID, when non-empty, skips every device
// of that user. Returns the number of queues reached.
func (h *Hub) Broadcast(sessionID string, ev models.Event, exceptUserID string) int {
	p, err := MarshalPayload(ev)
	if err != nil {
		logger.Error("broadcast_marshal_failed", "session", sessionID, "type", ev.Type, "err", err.Error())
		return 0
	}
	defer p.Release()

	h.mu.RLock()
	room := h.rooms[sessionID]
	targets := make([]*Conn, 0, len(room))
	for _, conn := range room {
		if exceptUserID != "" && conn.UserID == exceptUserID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Enqueue(p.Retain()) {
			delivered++
		}
	}
	metrics.EventsTotal.WithLabelValues(ev.Type).Add(float64(delivered))
	return delivered
}

// NotifyConn delivers the event to one specific connection.
func (h *Hub) NotifyConn(connID string, ev models.Event) bool {
	h.mu.RLock()
	conn := h.conns[connID]
	h.mu.RUnlock()
	if conn == nil {
		return false
	}
	p, err := MarshalPayload(ev)
	if err != nil {
		logger.Error("notify_marshal_failed", "conn", connID, "type", ev.Type, "err", err.Error())
		return false
	}
	if !conn.Enqueue(p) {
		return false
	}
	metrics.EventsTotal.WithLabelValues(ev.Type).Inc()
	return true
}

// NotifyRoomUser delivers the event to the session-room connections that
// belong to one user. Used for frames only that user should see, like the
// temp_id echo on a send.
func (h *Hub) NotifyRoomUser(sessionID, userID string, ev models.Event) int {
	p, err := MarshalPayload(ev)
	if err != nil {
		logger.Error("notify_marshal_failed", "session", sessionID, "user", userID, "type", ev.Type, "err", err.Error())
		return 0
	}
	defer p.Release()

	h.mu.RLock()
	room := h.rooms[sessionID]
	targets := make([]*Conn, 0, 2)
	for _, conn := range room {
		if conn.UserID == userID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Enqueue(p.Retain()) {
			delivered++
		}
	}
	if delivered > 0 {
		metrics.EventsTotal.WithLabelValues(ev.Type).Add(float64(delivered))
	}
	return delivered
}

// NotifyUser delivers the event to every device of the given user.
func (h *Hub) NotifyUser(userID string, ev models.Event) int {
	p, err := MarshalPayload(ev)
	if err != nil {
		logger.Error("notify_marshal_failed", "user", userID, "type", ev.Type, "err", err.Error())
		return 0
	}
	defer p.Release()

	h.mu.RLock()
	devs := h.users[userID]
	targets := make([]*Conn, 0, len(devs))
	for _, conn := range devs {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Enqueue(p.Retain()) {
			delivered++
		}
	}
	if delivered > 0 {
		metrics.EventsTotal.WithLabelValues(ev.Type).Add(float64(delivered))
	}
	return delivered
}

// Stats reports tracked connection, user and room counts for admin
// endpoints.
func (h *Hub) Stats() (conns, users, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns), len(h.users), len(h.rooms)
}

// Drain closes every tracked connection and clears hub state. Used at
// shutdown after the listener stops accepting upgrades.
func (h *Hub) Drain() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Conn)
	h.users = make(map[string]map[string]*Conn)
	h.rooms = make(map[string]map[string]*Conn)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	metrics.ConnectionsOpen.Sub(float64(len(conns)))
	logger.Info("hub_drained", "conns", len(conns))
}

func (h *Hub) detachLocked(connID string) {
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)

	if devs, ok := h.users[conn.UserID]; ok {
		delete(devs, connID)
		if len(devs) == 0 {
			delete(h.users, conn.UserID)
		}
	}

	for sessionID := range h.connRooms[connID] {
		h.leaveLocked(sessionID, connID)
	}
	delete(h.connRooms, connID)
}

func (h *Hub) leaveLocked(sessionID, connID string) {
	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
	if memberships, ok := h.connRooms[connID]; ok {
		delete(memberships, sessionID)
	}
}
