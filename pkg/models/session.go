package models

// Session status values. The lifecycle is monotonic: pending → active →
// closed, or pending → closed. A closed session is terminal.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusClosed  = "closed"
)

// ValidStatus reports whether s is a known session status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusActive, StatusClosed:
		return true
	}
	return false
}

// Session is a bounded conversation between one customer and at most one
// agent.
type Session struct {
	ID           string `json:"id"`
	Subject      string `json:"subject,omitempty"`
	Status       string `json:"status"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name,omitempty"`
	AgentID      string `json:"agent_id,omitempty"`
	AgentName    string `json:"agent_name,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`
	// Last activity timestamp (ns) - bumped by messages and transitions
	LastActiveTS int64 `json:"last_active_ts"`
	// Closed timestamp (ns), zero while the session is open
	ClosedTS int64 `json:"closed_ts,omitempty"`
	// LastSeq is the highest message seq assigned in this session
	LastSeq int64 `json:"last_seq"`
}

// Participant reports whether the given user takes part in the session.
func (s *Session) Participant(userID string) bool {
	return userID == s.CustomerID || (s.AgentID != "" && userID == s.AgentID)
}
