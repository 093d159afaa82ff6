package authz

import (
	"fmt"

	"procgate/internal/metadata"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Checker computes a decision from the configuration snapshot, without
// caching.
type Checker interface {
	Check(snap *metadata.Snapshot, clientID, functionID string) Decision
}

// RoleResolver answers role membership questions against a snapshot.
type RoleResolver struct{}

func NewRoleResolver() *RoleResolver { return &RoleResolver{} }

// Roles returns the roles held by clientID.
func (r *RoleResolver) Roles(snap *metadata.Snapshot, clientID string) []metadata.Role {
	return snap.ClientRoles(clientID)
}

// ClientsWithRole returns every client currently holding roleID.
func (r *RoleResolver) ClientsWithRole(snap *metadata.Snapshot, roleID string) []string {
	return snap.RoleClients(roleID)
}

// Grants reports whether role allows executing functionID: an exact
// function grant, or a function wildcard for execute or all actions.
func (r *RoleResolver) Grants(role metadata.Role, functionID string) bool {
	for _, p := range role.Permissions {
		if p.ResourceType != metadata.ResourceFunction {
			continue
		}
		if p.IsWildcard() {
			if p.Action == metadata.ActionExecute || p.Action == metadata.ActionAll {
				return true
			}
			continue
		}
		if *p.ResourceID == functionID && p.Action == metadata.ActionExecute {
			return true
		}
	}
	return false
}

// PermissionChecker applies the precedence: an explicit function permission
// row decides alone; otherwise any role grant allows; otherwise deny. A
// function without any permission rows is denied like any other.
type PermissionChecker struct {
	roles *RoleResolver
}

func NewPermissionChecker(roles *RoleResolver) *PermissionChecker {
	if roles == nil {
		roles = NewRoleResolver()
	}
	return &PermissionChecker{roles: roles}
}

func (c *PermissionChecker) Check(snap *metadata.Snapshot, clientID, functionID string) Decision {
	if fp, ok := snap.FunctionPermission(clientID, functionID); ok {
		if fp.Allowed {
			return Decision{Allowed: true, Reason: "explicit allow"}
		}
		return Decision{Allowed: false, Reason: "explicit deny"}
	}

	for _, role := range c.roles.Roles(snap, clientID) {
		if c.roles.Grants(role, functionID) {
			return Decision{Allowed: true, Reason: fmt.Sprintf("granted by role %s", role.ID)}
		}
	}
	return Decision{Allowed: false, Reason: fmt.Sprintf("no permission to execute %s", functionID)}
}
