package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID            bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Username      string          `bson:"username" json:"username"`
	UsernameLower string          `bson:"usernameLower" json:"-"`
	Email         string          `bson:"email" json:"email"`
	PasswordHash  string          `bson:"passwordHash,omitempty" json:"-"` // never expose
	AuthProvider  string          `bson:"authProvider,omitempty" json:"authProvider,omitempty"`
	Role          Role            `bson:"role" json:"role"`
	IsActive      bool            `bson:"isActive" json:"isActive"`
	RefreshTokens []SessionRecord `bson:"refreshTokens" json:"-"`
	LastLogin     *time.Time      `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	CreatedAt     time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Identity returns the minimal identity claim of u.
func (u *User) Identity() Identity {
	return Identity{
		ID:       u.ID.Hex(),
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}
}

// Identity is the minimal, request-scoped view of a user. It never carries
// the password hash or the session list.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// HasRole reports whether the identity holds one of roles.
func (i Identity) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}
