// Package repository persists users and the session records embedded in
// them. MongoStore is used in production; MemoryStore backs tests and
// local development and behaves the same way.
package repository

import (
	"context"
	"time"

	"github.com/kenryalonzo/doualairblog-auth/models"
)

const UsersCollection = "users"

// AddOptions controls AddSession.
type AddOptions struct {
	// Limit caps the number of records kept; the oldest are evicted first.
	// Zero or negative means no cap.
	Limit int
	// LastLogin, when set, is written in the same update.
	LastLogin *time.Time
}

type UserStore interface {
	// CreateUser inserts u and fills in its ID. A duplicate email or
	// username fails with apperr.ConflictError.
	CreateUser(ctx context.Context, u *models.User) error
	// CreateUserIfAbsent inserts u unless a user with the same email exists.
	CreateUserIfAbsent(ctx context.Context, u *models.User) (bool, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	// FindIdentity loads a user without its password hash or sessions.
	FindIdentity(ctx context.Context, id string) (*models.User, error)
	// EmailOrUsernameTaken reports which field, if any, is already used.
	EmailOrUsernameTaken(ctx context.Context, email, usernameLower string) (string, bool, error)
	SetUserActive(ctx context.Context, id string, active bool) error
	// UpdatePassword replaces the hash and drops every session of the user.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// DeleteUser removes the user document and with it every session.
	DeleteUser(ctx context.Context, id string) error
}

type SessionStore interface {
	AddSession(ctx context.Context, userID string, rec models.SessionRecord, opts AddOptions) error
	FindSessionByTokenHash(ctx context.Context, hash string) (*models.User, *models.SessionRecord, error)
	FindSessionByPreviousHash(ctx context.Context, hash string) (*models.User, *models.SessionRecord, error)
	// ReplaceSessionToken swaps the token hash of one session, provided it
	// still carries oldHash.
	ReplaceSessionToken(ctx context.Context, userID, sessionID, oldHash, newHash string, expiresAt, now time.Time) error
	// RemoveSessionByTokenHash removes the record with hash. An empty userID
	// searches every user. Removing an absent record is not an error.
	RemoveSessionByTokenHash(ctx context.Context, userID, hash string) (bool, error)
	RemoveSessionByID(ctx context.Context, userID, sessionID string) (bool, error)
	RemoveAllSessions(ctx context.Context, userID string) (int, error)
	ListSessions(ctx context.Context, userID string) ([]models.SessionRecord, error)
	// RemoveExpiredSessions drops every record of the user with
	// expiresAt <= now and returns how many were removed.
	RemoveExpiredSessions(ctx context.Context, userID string, now time.Time) (int, error)
	UsersWithExpiredSessions(ctx context.Context, now time.Time) ([]string, error)
}

type Store interface {
	UserStore
	SessionStore
}

var (
	_ Store = (*MongoStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
