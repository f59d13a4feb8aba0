package validation

import (
	"fmt"
	"strings"

	"chatwire/pkg/chaterr"
	"chatwire/pkg/models"
)

// Limits holds the payload bounds enforced before any persistence attempt.
// Zero values fall back to the defaults below.
type Limits struct {
	MaxContentLen     int
	MaxSubjectLen     int
	MaxAttachments    int
	MaxAttachmentSize int64
	// AllowedFileTypes is a content-type allowlist; empty allows any type
	AllowedFileTypes []string
}

const (
	defaultMaxContentLen     = 8192
	defaultMaxSubjectLen     = 256
	defaultMaxAttachments    = 5
	defaultMaxAttachmentSize = 10 << 20 // 10MB
)

var limits = Limits{
	MaxContentLen:     defaultMaxContentLen,
	MaxSubjectLen:     defaultMaxSubjectLen,
	MaxAttachments:    defaultMaxAttachments,
	MaxAttachmentSize: defaultMaxAttachmentSize,
}

// SetLimits installs config-driven limits; zero fields keep their defaults.
func SetLimits(l Limits) {
	if l.MaxContentLen > 0 {
		limits.MaxContentLen = l.MaxContentLen
	}
	if l.MaxSubjectLen > 0 {
		limits.MaxSubjectLen = l.MaxSubjectLen
	}
	if l.MaxAttachments > 0 {
		limits.MaxAttachments = l.MaxAttachments
	}
	if l.MaxAttachmentSize > 0 {
		limits.MaxAttachmentSize = l.MaxAttachmentSize
	}
	if l.AllowedFileTypes != nil {
		limits.AllowedFileTypes = l.AllowedFileTypes
	}
}

// MaxAttachments reports the configured per-message attachment cap.
func MaxAttachments() int { return limits.MaxAttachments }

// MaxAttachmentSize reports the configured per-file size cap in bytes.
func MaxAttachmentSize() int64 { return limits.MaxAttachmentSize }

// ValidateSubject checks a new session subject.
func ValidateSubject(s string) error {
	if strings.TrimSpace(s) == "" {
		return chaterr.Validation("subject is required")
	}
	if len(s) > limits.MaxSubjectLen {
		return chaterr.Newf(chaterr.CodeValidation, "subject exceeds %d bytes", limits.MaxSubjectLen)
	}
	return nil
}

// ValidateMessage checks an outbound message payload. Any failure rejects
// the whole call; nothing is persisted on error.
func ValidateMessage(content, msgType string, atts []models.Attachment) error {
	var errs []string
	if !models.ValidMessageType(msgType) {
		errs = append(errs, fmt.Sprintf("invalid message type: %q", msgType))
	}
	if strings.TrimSpace(content) == "" && len(atts) == 0 {
		errs = append(errs, "content or attachments required")
	}
	if len(content) > limits.MaxContentLen {
		errs = append(errs, fmt.Sprintf("content exceeds %d bytes", limits.MaxContentLen))
	}
	if len(atts) > limits.MaxAttachments {
		errs = append(errs, fmt.Sprintf("too many attachments: %d > %d", len(atts), limits.MaxAttachments))
	}
	for i := range atts {
		errs = append(errs, attachmentErrs(&atts[i])...)
	}
	if len(errs) > 0 {
		return chaterr.Validation(strings.Join(errs, "; "))
	}
	return nil
}

func attachmentErrs(a *models.Attachment) (errs []string) {
	if strings.TrimSpace(a.FileName) == "" {
		errs = append(errs, "attachment file_name is required")
	}
	if strings.Contains(a.FileName, "/") || strings.Contains(a.FileName, "..") {
		errs = append(errs, fmt.Sprintf("attachment file_name not allowed: %q", a.FileName))
	}
	if a.FileSize <= 0 {
		errs = append(errs, fmt.Sprintf("attachment %s is empty", a.FileName))
	} else if a.FileSize > limits.MaxAttachmentSize {
		errs = append(errs, fmt.Sprintf("attachment %s exceeds %d bytes", a.FileName, limits.MaxAttachmentSize))
	}
	if len(limits.AllowedFileTypes) > 0 && !typeAllowed(a.FileType) {
		errs = append(errs, fmt.Sprintf("attachment type not allowed: %q", a.FileType))
	}
	return errs
}

func typeAllowed(t string) bool {
	for _, v := range limits.AllowedFileTypes {
		if strings.EqualFold(v, t) {
			return true
		}
	}
	return false
}
