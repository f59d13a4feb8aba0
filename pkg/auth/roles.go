package auth

import "chatwire/pkg/models"

// Actions gate operations that are not implied by session membership.
// Joining, sending and reading inside a session are membership checks
// handled by the coordinator, not role checks.
const (
	ActionOpenSession = "open_session"
	ActionAccept      = "accept"
	ActionClose       = "close"
	ActionViewPending = "view_pending"
	ActionUpload      = "upload"
	ActionAdmin       = "admin"
)

var rolePerms = map[string]map[string]bool{
	models.RoleCustomer: {
		ActionOpenSession: true,
		ActionClose:       true,
		ActionUpload:      true,
	},
	models.RoleAgent: {
		ActionAccept:      true,
		ActionClose:       true,
		ActionViewPending: true,
		ActionUpload:      true,
	},
	models.RoleAdmin: {
		ActionClose:       true,
		ActionViewPending: true,
		ActionAdmin:       true,
	},
}

// Can reports whether the role is allowed to perform the action.
func Can(role, action string) bool {
	perms, ok := rolePerms[role]
	if !ok {
		return false
	}
	return perms[action]
}
