package models

// Role values carried in verified credentials.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
	// RoleSystem is internal; never minted into a token
	RoleSystem = "system"
)

// Identity is the verified caller extracted from a bearer credential.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// System is the internal actor used for automated transitions such as the
// idle-session sweep.
var System = Identity{ID: "system", Name: "System", Role: RoleSystem}
