package models

import "encoding/json"

// Client → server event names.
const (
	EvJoinSession  = "join_session"
	EvLeaveSession = "leave_session"
	EvSendMessage  = "send_message"
	EvTyping       = "typing"
	EvStopTyping   = "stop_typing"
	EvMarkAsRead   = "mark_as_read"
	EvAccept       = "accept"
	EvClose        = "close"
)

// Server → client event names.
const (
	EvSessionJoined = "session_joined"
	EvNewMessage    = "new_message"
	EvUserTyping    = "user_typing"
	EvTypingStopped = "typing_stopped"
	EvMessagesRead  = "messages_read"
	EvChatAccepted  = "chat_accepted"
	EvChatClosed    = "chat_closed"
	EvError         = "error"
)

// Event is the wire envelope for both directions: a named event with a
// JSON payload.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an envelope of the given type.
func NewEvent(typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: raw}, nil
}

// Client → server payloads.

type JoinSessionData struct {
	SessionID string `json:"session_id"`
	// LastSeenID resumes delivery strictly after this message; empty on
	// first join
	LastSeenID string `json:"last_seen_id,omitempty"`
}

type LeaveSessionData struct {
	SessionID string `json:"session_id"`
}

type SendMessageData struct {
	SessionID   string `json:"session_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	TempID      string `json:"temp_id,omitempty"`
	// Attachments carry descriptors for files already placed by the
	// upload endpoint; bytes never travel over the socket
	Attachments []Attachment `json:"attachments,omitempty"`
}

type TypingData struct {
	SessionID string `json:"session_id"`
}

type MarkAsReadData struct {
	SessionID  string   `json:"session_id"`
	MessageIDs []string `json:"message_ids"`
}

type AcceptData struct {
	SessionID string `json:"session_id"`
}

type CloseData struct {
	SessionID string `json:"session_id"`
}

// Server → client payloads.

type SessionJoinedData struct {
	Session *Session  `json:"session"`
	Backlog []Message `json:"backlog"`
}

type NewMessageData struct {
	Message *Message `json:"message"`
}

type UserTypingData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
}

type TypingStoppedData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type MessagesReadData struct {
	SessionID  string   `json:"session_id"`
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

type ChatAcceptedData struct {
	Session   *Session `json:"session"`
	AgentName string   `json:"agent_name,omitempty"`
}

type ChatClosedData struct {
	Session *Session `json:"session"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
