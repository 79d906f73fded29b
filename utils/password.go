package utils

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted by HashPassword.
const MinPasswordLength = 6

func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", apperr.E("utils.HashPassword", apperr.ErrInvalidInput, "password too short")
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword verifies password against a stored bcrypt hash. An empty
// hash (federated account) never matches. Every mismatch is reported as
// ErrInvalidCredentials so callers cannot tell which part was wrong.
func CheckPassword(hash string, password string) error {
	if hash == "" {
		return apperr.E("utils.CheckPassword", apperr.ErrInvalidCredentials, "no password set")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return apperr.E("utils.CheckPassword", apperr.ErrInvalidCredentials, "")
	default:
		// Malformed stored hash.
		return apperr.E("utils.CheckPassword", apperr.ErrInvalidCredentials, err.Error())
	}
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// DummyCheckPassword burns one bcrypt comparison. It is used when the user
// does not exist so that response timing does not reveal which emails are
// registered.
func DummyCheckPassword(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing-only"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
