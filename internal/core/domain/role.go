package domain

import "strings"

// Role is an ordered privilege level. Lower value means higher privilege.
type Role int

const (
	RoleCreator Role = 0
	RoleEditor  Role = 1
	RoleGuest   Role = 2
	RoleNone    Role = 3
)

func (r Role) String() string {
	switch r {
	case RoleCreator:
		return "creator"
	case RoleEditor:
		return "editor"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// AtLeast reports whether the role satisfies the given minimum role.
func (r Role) AtLeast(min Role) bool {
	return r <= min
}

// PermissionTable maps a matcher to a role. A matcher is "*" (everyone),
// an exact identity token, or a domain suffix that matches any email-shaped
// token with that domain.
type PermissionTable map[string]Role

// Matches reports whether the matcher applies to the identity token.
func Matches(token, matcher string) bool {
	if matcher == "*" {
		return true
	}
	if token == matcher {
		return true
	}
	if strings.Contains(matcher, ".") && strings.Contains(token, "@") {
		if domainOf(token) == matcher {
			return true
		}
	}
	return false
}

func domainOf(token string) string {
	if i := strings.Index(token, "@"); i >= 0 {
		return token[i+1:]
	}
	return ""
}

// EffectiveRole resolves the role of a token against the table: the numeric
// minimum (most privileged) role over all matching entries, RoleNone if
// nothing matches. Equally-privileged conflicting matchers need no tie-break.
func EffectiveRole(token string, table PermissionTable) Role {
	role := RoleNone
	for matcher, r := range table {
		if r < role && Matches(token, matcher) {
			role = r
		}
	}
	return role
}

// IsPermitted reports whether a board-level role satisfies the minimum
// required role. When the minimum is RoleEditor, a slide grant set may
// upgrade the token to editor access; this is the only path by which a
// guest gains edit rights, and it is scoped to a single slide.
func IsPermitted(role Role, min Role, token string, slideGrants []string) bool {
	if role <= min {
		return true
	}
	if min == RoleEditor && token != "" {
		for _, grant := range slideGrants {
			if grant == token {
				return true
			}
		}
	}
	return false
}

// publicEmailDomains are providers whose domain conveys no organisation
// membership, so a domain matcher for them would leak access.
var publicEmailDomains = map[string]bool{
	"gmail.com": true,
}

// DefaultPermissions builds the initial table for a freshly created board.
// Email identities from an organisation domain share guest access with that
// domain; public-provider emails and anonymous tokens do not.
func DefaultPermissions(token string) PermissionTable {
	if strings.Contains(token, "@") {
		domain := domainOf(token)
		if !publicEmailDomains[domain] {
			return PermissionTable{
				"*":    RoleNone,
				token:  RoleCreator,
				domain: RoleGuest,
			}
		}
		return PermissionTable{
			"*":   RoleGuest,
			token: RoleCreator,
		}
	}
	return PermissionTable{
		"*":   RoleEditor,
		token: RoleCreator,
	}
}

// Clone returns a copy of the table safe to mutate independently.
func (t PermissionTable) Clone() PermissionTable {
	out := make(PermissionTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
