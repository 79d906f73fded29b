// Package tokens issues and verifies the signed access and refresh tokens.
//
// Both kinds are HS256 JWTs with the same claim shape, signed with two
// different secrets, so a token of one kind never verifies as the other.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/models"
)

const (
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour

	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	Type     string      `json:"typ"`
	// Nonce makes every refresh token distinct, even when a session is
	// rotated within the same second.
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims.
func (c *Claims) Identity() models.Identity {
	return models.Identity{
		ID:       c.Subject,
		Username: c.Username,
		Email:    c.Email,
		Role:     c.Role,
	}
}

// SessionID is the jti of a refresh token.
func (c *Claims) SessionID() string { return c.ID }

// ExpiresAtTime returns exp in UTC, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issuance and verification.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(accessSecret, refreshSecret string, opts ...Option) (*Codec, error) {
	const op = "tokens.NewCodec"
	if accessSecret == "" {
		return nil, apperr.E(op, apperr.ErrConfig, "access secret is empty")
	}
	if refreshSecret == "" {
		return nil, apperr.E(op, apperr.ErrConfig, "refresh secret is empty")
	}
	if accessSecret == refreshSecret {
		return nil, apperr.E(op, apperr.ErrConfig, "access and refresh secrets must differ")
	}
	c := &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Codec) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Codec) sign(op string, secret []byte, claims *Claims) (string, error) {
	if len(secret) == 0 {
		return "", apperr.E(op, apperr.ErrConfig, "signing secret is not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%s: sign: %w", op, err)
	}
	return s, nil
}

func (c *Codec) claims(id models.Identity, typ string, ttl time.Duration) *Claims {
	// exp has one second resolution on the wire; truncate so the stored
	// session expiry and the token exp are the same instant.
	now := c.clock().UTC().Truncate(time.Second)
	return &Claims{
		Username: id.Username,
		Email:    id.Email,
		Role:     id.Role,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// IssueAccessToken signs a short-lived access token for id.
func (c *Codec) IssueAccessToken(id models.Identity) (string, time.Time, error) {
	claims := c.claims(id, TypeAccess, AccessTTL)
	s, err := c.sign("tokens.IssueAccessToken", c.accessSecret, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, claims.ExpiresAtTime(), nil
}

// IssueRefreshToken signs a refresh token bound to sessionID.
func (c *Codec) IssueRefreshToken(id models.Identity, sessionID string) (string, time.Time, error) {
	const op = "tokens.IssueRefreshToken"
	if sessionID == "" {
		return "", time.Time{}, apperr.E(op, apperr.ErrInvalidInput, "session id is empty")
	}
	claims := c.claims(id, TypeRefresh, RefreshTTL)
	claims.ID = sessionID
	claims.Nonce = uuid.NewString()
	s, err := c.sign(op, c.refreshSecret, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, claims.ExpiresAtTime(), nil
}

func (c *Codec) VerifyAccessToken(token string) (*Claims, error) {
	return c.verify("tokens.VerifyAccessToken", token, c.accessSecret, TypeAccess)
}

func (c *Codec) VerifyRefreshToken(token string) (*Claims, error) {
	claims, err := c.verify("tokens.VerifyRefreshToken", token, c.refreshSecret, TypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, apperr.E("tokens.VerifyRefreshToken", apperr.ErrTokenInvalid, "missing jti")
	}
	return claims, nil
}

func (c *Codec) verify(op, token string, secret []byte, typ string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, apperr.E(op, apperr.ErrConfig, "verification secret is not configured")
	}
	if token == "" {
		return nil, apperr.E(op, apperr.ErrTokenInvalid, "empty token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperr.E(op, apperr.ErrTokenExpired, "")
	case err != nil:
		return nil, apperr.E(op, apperr.ErrTokenInvalid, err.Error())
	case !parsed.Valid:
		return nil, apperr.E(op, apperr.ErrTokenInvalid, "invalid token")
	}

	if claims.Type != typ {
		return nil, apperr.E(op, apperr.ErrTokenInvalid, "unexpected token type")
	}
	if claims.Subject == "" {
		return nil, apperr.E(op, apperr.ErrTokenInvalid, "missing subject")
	}
	return claims, nil
}
