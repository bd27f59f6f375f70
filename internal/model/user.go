package model

import (
	"strings"
	"time"
)

// Portal roles. ADMIN manages templates and signing requests, WORKER has
// read access to the signing dashboards, CLIENT sees only their own
// requests and documents.
const (
	RoleAdmin  = "ADMIN"
	RoleWorker = "WORKER"
	RoleClient = "CLIENT"
)

// ValidRole reports whether role is one of the portal roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleWorker, RoleClient:
		return true
	}
	return false
}

// NormalizeRole upper-cases and trims a role name.
func NormalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

// User represents a portal account as stored in the `users` table.
//
// Fields:
//
//	ID           – primary key (UUID).
//	Email        – unique, lower-cased email address.
//	FullName     – display name.
//	PasswordHash – bcrypt hashed password.
//	Role         – ADMIN, WORKER or CLIENT.
//	IsActive     – whether the account may log in.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           string    // users.id
	Email        string    // users.email
	FullName     string    // users.full_name
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at_ms
	UpdatedAt    time.Time // users.updated_at_ms
}

// RefreshToken models an entry in the `refresh_tokens` table. The plain
// token is never stored; only its SHA‑256 hash.
type RefreshToken struct {
	ID        string     // refresh_tokens.id
	UserID    string     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at_ms
	RevokedAt *time.Time // refresh_tokens.revoked_at_ms (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at_ms
}
