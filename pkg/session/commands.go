package session

import "chatwire/pkg/models"

// Kind tags a Command variant. The coordinator switches over every kind
// explicitly; an unmatched kind surfaces as an error, never a silent drop.
type Kind int

const (
	CmdJoin Kind = iota
	CmdLeave
	CmdSend
	CmdTyping
	CmdStopTyping
	CmdMarkRead
	CmdAccept
	CmdClose
)

func (k Kind) String() string {
	switch k {
	case CmdJoin:
		return "join"
	case CmdLeave:
		return "leave"
	case CmdSend:
		return "send"
	case CmdTyping:
		return "typing"
	case CmdStopTyping:
		return "stop_typing"
	case CmdMarkRead:
		return "mark_read"
	case CmdAccept:
		return "accept"
	case CmdClose:
		return "close"
	}
	return "unknown"
}

// Command is the tagged union dispatched into the coordinator. Kind
// decides which payload fields are read; Actor and SessionID are always
// set, ConnID whenever the command originates from a live connection.
type Command struct {
	Kind      Kind
	SessionID string
	Actor     models.Identity
	ConnID    string

	// join
	LastSeenID string

	// send
	Content     string
	MessageType string
	TempID      string
	Attachments []models.Attachment

	// mark_read
	MessageIDs []string

	// Reply receives exactly one Result. Dispatch allocates it when nil.
	Reply chan Result
}

// Result is the worker's answer to one command.
type Result struct {
	Err     error
	Session *models.Session
	Message *models.Message
	Backlog []models.Message
}
