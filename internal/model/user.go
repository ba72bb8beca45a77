package model

import "time"

// Application roles.  Parents register students/vehicles and see their
// own entries; staff run the scan stations and the full queue board of
// their school; admins additionally manage school records.
const (
	RoleParent = "PARENT"
	RoleStaff  = "STAFF"
	RoleAdmin  = "ADMIN"
)

// IsStaffRole reports whether the role may act on queue entries it does
// not own (call, pick up, remove) for its school.
func IsStaffRole(role string) bool {
	return role == RoleStaff || role == RoleAdmin
}

// User represents an application account as stored in the `users`
// table.  SchoolID is set for STAFF and ADMIN accounts, binding the
// account to one school; parent accounts leave it null and reach
// schools only through their students.
//
// Fields:
//  ID           – primary key identifier.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – PARENT, STAFF or ADMIN.
//  SchoolID     – school binding for staff accounts (nullable).
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	SchoolID     *uint64   // users.school_id (nullable)
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the raw token is persisted.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
