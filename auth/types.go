// Package auth implements the authentication service (C9): users, roles,
// permissions, and short-lived tokens, plus optional per-role CEL
// authorization rules.
//
// Grounded on bundoc/security/{types,manager,scram}.go for the
// user/role/permission shape and salted-hash credential storage, and on
// bundoc/rules/engine.go for the CEL rule evaluator — simplified from
// bundoc's full SCRAM challenge-response handshake (never needed here;
// spec.md §4.8 authenticates with a plain password, not a wire protocol)
// down to a salt-then-PBKDF2-then-compare credential check.
package auth

import "time"

// Permission is an atomic authorization grant. Identifiers are dotted
// strings (e.g. "document.read", per spec.md §3's own example) and are
// matched exactly — no wildcarding, per spec.md §4.8.
type Permission string

const (
	PermRead  Permission = "document.read"
	PermWrite Permission = "document.write"
	PermAdmin Permission = "collection.admin" // collection administration: create/drop, index, schema, TTL
)

// Role is a named set of permissions, optionally guarded by a CEL
// expression evaluated against the authorize request's resource context.
type Role struct {
	Name        string
	Description string
	Permissions map[Permission]bool
	Rule        string // optional CEL expression; empty means "no extra constraint"
}

// Built-in roles installed by NewManager.
const (
	RoleAdmin    = "Admin"
	RoleUser     = "User"
	RoleReadOnly = "ReadOnly"
	// Service roles for server-to-server callers that never need
	// interactive authentication of their own.
	RoleServiceWriter = "ServiceWriter"
	RoleServiceReader = "ServiceReader"
)

func builtinRoles() map[string]*Role {
	return map[string]*Role{
		RoleAdmin: {
			Name:        RoleAdmin,
			Description: "full read, write, and administrative access",
			Permissions: map[Permission]bool{PermRead: true, PermWrite: true, PermAdmin: true},
		},
		RoleUser: {
			Name:        RoleUser,
			Description: "standard read/write access",
			Permissions: map[Permission]bool{PermRead: true, PermWrite: true},
		},
		RoleReadOnly: {
			Name:        RoleReadOnly,
			Description: "read-only access",
			Permissions: map[Permission]bool{PermRead: true},
		},
		RoleServiceWriter: {
			Name:        RoleServiceWriter,
			Description: "write access for trusted service-to-service callers",
			Permissions: map[Permission]bool{PermRead: true, PermWrite: true},
		},
		RoleServiceReader: {
			Name:        RoleServiceReader,
			Description: "read-only access for trusted service-to-service callers",
			Permissions: map[Permission]bool{PermRead: true},
		},
	}
}

// User is an authenticated entity.
type User struct {
	Username     string
	Salt         string
	StoredKey    string // base64 PBKDF2-derived credential, see crypto.go
	Roles        map[string]bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthToken is issued by Authenticate and consumed by ValidateToken /
// Authorize.
type AuthToken struct {
	Id        string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AuthorizeResult is returned by Authorize.
type AuthorizeResult struct {
	IsAuthorized  bool
	FailureReason string
	// FailureKind is the apperr.Kind backing FailureReason (InvalidToken,
	// TokenExpired, or InsufficientPermission), so callers that need to
	// surface a structured error tag don't have to re-parse the message.
	FailureKind string
}
