package model

import "time"

// User represents an application user record as stored in the
// `users` table.  The carpool core only relies on ID and Nickname;
// the remaining fields serve the account endpoints.  Nicknames are
// unique regardless of case.
//
// Fields:
//  ID           – opaque identifier (UUID string).
//  Email        – unique, lower-cased email address.
//  Nickname     – public display name.
//  PasswordHash – bcrypt hashed password.
//  Role         – USER or ADMIN.
//  Points       – gamification counter, changed only through the points ledger.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           string    // users.id
	Email        string    // users.email
	Nickname     string    // users.nickname
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	Points       int       // users.points
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Event is the slice of an event the carpool engine depends on: the
// foreign key rides and queue entries point at, and the date used to
// scope the recent rides feed.
type Event struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
	Location string    `json:"location"`
}

// PointLog is one signed change applied to a user's points counter.
type PointLog struct {
	ID        uint64    // point_logs.id
	UserID    string    // point_logs.user_id
	Amount    int       // point_logs.amount (+ or -)
	Reason    string    // point_logs.reason
	CreatedAt time.Time // point_logs.created_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The
// plain token is never stored, only its SHA-256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    string     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
