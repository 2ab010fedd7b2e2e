// Package policy maps roles to capabilities.
package policy

import "litshelf/pkg/domain"

// Authorize reports whether role holds capability.
// Banned is denied everything, owner is granted everything, and any other
// role holds exactly the capability of the same name.
func Authorize(role domain.Role, capability domain.Capability) bool {
	switch role {
	case domain.RoleBanned:
		return false
	case domain.RoleOwner:
		return true
	case domain.RoleReader, domain.RoleAuthor, domain.RoleModerator:
		return string(role) == string(capability)
	default:
		return false
	}
}

// Active reports whether role may use public reader actions.
func Active(role domain.Role) bool {
	return role.Valid() && role != domain.RoleBanned
}
