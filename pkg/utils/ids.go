package utils

import "github.com/google/uuid"

// NewID returns a canonical id for sessions, messages and attachments.
func NewID() string { return uuid.NewString() }
