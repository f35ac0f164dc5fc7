package access

import (
	"fmt"
	"strings"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// Role is one capability an account may hold.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleIssuer   Role = "issuer"
	RoleVerifier Role = "verifier"
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleIssuer, RoleVerifier:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// RoleSet is the capability set of one account.
type RoleSet uint8

const (
	flagAdmin RoleSet = 1 << iota
	flagIssuer
	flagVerifier
)

func (r Role) flag() RoleSet {
	switch r {
	case RoleAdmin:
		return flagAdmin
	case RoleIssuer:
		return flagIssuer
	case RoleVerifier:
		return flagVerifier
	default:
		return 0
	}
}

// Has reports whether the set contains role.
func (s RoleSet) Has(role Role) bool {
	f := role.flag()
	return f != 0 && s&f == f
}

// Roles lists the roles in the set in a stable order.
func (s RoleSet) Roles() []Role {
	var out []Role
	for _, r := range []Role{RoleAdmin, RoleIssuer, RoleVerifier} {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Kind returns the dashboard persona for the set: the highest role held, or
// "holder" for plain accounts.
func (s RoleSet) Kind() string {
	switch {
	case s.Has(RoleAdmin):
		return string(RoleAdmin)
	case s.Has(RoleIssuer):
		return string(RoleIssuer)
	case s.Has(RoleVerifier):
		return string(RoleVerifier)
	default:
		return "holder"
	}
}

// AccountRoles is the query view of one account.
type AccountRoles struct {
	Account domain.Account `json:"account"`
	Roles   []Role         `json:"roles"`
	Kind    string         `json:"kind"`
}

// RoleChangeRequest is the body of grant and revoke calls.
type RoleChangeRequest struct {
	Role    string `json:"role" binding:"required"`
	Account string `json:"account" binding:"required"`
}
