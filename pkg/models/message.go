package models

// Message type values. System messages are appended by the coordinator on
// lifecycle transitions.
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeFile   = "file"
	TypeSystem = "system"
)

// ValidMessageType reports whether t is a known client message type.
// System messages cannot be sent by clients.
func ValidMessageType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	}
	return false
}

// Message is one entry in a session's append-only log. Seq is assigned by
// the coordinator and totally orders messages within a session.
type Message struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Seq        int64  `json:"seq"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	SenderRole string `json:"sender_role"`
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	// Attachments are created atomically with the message and never exist
	// without it
	Attachments []Attachment `json:"attachments,omitempty"`
	// Created timestamp (ns)
	TS int64 `json:"ts"`
	// TempID echoes the client correlation id in broadcasts; it is not
	// part of the message identity
	TempID string `json:"temp_id,omitempty"`
}

// Attachment is file metadata owned by its parent message.
type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	// StorageURL is the serving path for the stored file
	StorageURL string `json:"storage_url"`
}

// ReadCursor marks the newest message seq a user is known to have read in
// a session. Writes never regress; the stored value is the max seen.
type ReadCursor struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Seq       int64  `json:"seq"`
	// Read timestamp (ns)
	ReadTS int64 `json:"read_ts"`
}
