package session

import (
	"chatwire/pkg/logger"
	"chatwire/pkg/models"
)

// EventSink is the fan-out surface the coordinator publishes through.
// *gateway.Hub satisfies it; tests substitute a recording fake.
type EventSink interface {
	// Join attaches a connection to the session room; false when the
	// connection is gone.
	Join(sessionID, connID string) bool
	// Leave detaches a connection from the session room.
	Leave(sessionID, connID string)
	// InRoom reports whether the connection is attached to the room.
	InRoom(sessionID, connID string) bool
	// Broadcast delivers the event to every room connection, skipping
	// all devices of exceptUserID when non-empty.
	Broadcast(sessionID string, ev models.Event, exceptUserID string) int
	// NotifyRoomUser delivers the event to one user's room connections.
	NotifyRoomUser(sessionID, userID string, ev models.Event) int
	// NotifyConn delivers the event to one connection.
	NotifyConn(connID string, ev models.Event) bool
}

// event wraps models.NewEvent for payloads built from our own structs,
// where a marshal failure is a programming error rather than bad input.
func event(typ string, data any) models.Event {
	ev, err := models.NewEvent(typ, data)
	if err != nil {
		logger.Error("event_marshal_failed", "type", typ, "err", err.Error())
		return models.Event{Type: typ}
	}
	return ev
}
