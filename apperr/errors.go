// Package apperr defines the error kinds shared by the session subsystem and
// the single table mapping them to HTTP statuses.
//
// Lower layers return (or wrap) one of the sentinel kinds below; only the HTTP
// layer (controllers and middleware) turns a kind into a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Match with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountInactive    = errors.New("account_inactive")
	ErrConflict           = errors.New("conflict")
	ErrTokenExpired       = errors.New("token_expired")
	ErrTokenInvalid       = errors.New("token_invalid")
	ErrSessionNotFound    = errors.New("session_not_found")
	ErrRefreshReuse       = errors.New("refresh_reuse")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidInput       = errors.New("invalid_input")
	ErrConfig             = errors.New("config_error")
)

// Error is a typed operation error carrying one of the sentinel kinds.
// Msg is for logs; it must not contain secrets or raw tokens.
type Error struct {
	Op   string
	Kind error
	Msg  string
}

func (e Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e Error) Unwrap() error { return e.Kind }

// E builds an Error.
func E(op string, kind error, msg string) error {
	return Error{Op: op, Kind: kind, Msg: msg}
}

// ConflictError reports a uniqueness violation on a logical field such as
// "email" or "username".
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// Response is the client-facing projection of an error.
type Response struct {
	Status  int
	Code    string
	Message string
}

var table = []struct {
	kind error
	resp Response
}{
	{ErrInvalidCredentials, Response{http.StatusUnauthorized, "invalid_credentials", "invalid credentials"}},
	{ErrAccountInactive, Response{http.StatusForbidden, "account_inactive", "account disabled"}},
	{ErrConflict, Response{http.StatusConflict, "conflict", "email or username already in use"}},
	{ErrTokenExpired, Response{http.StatusUnauthorized, "token_expired", "token expired"}},
	{ErrTokenInvalid, Response{http.StatusUnauthorized, "token_invalid", "token invalid"}},
	{ErrSessionNotFound, Response{http.StatusUnauthorized, "session_not_found", "session revoked or unknown"}},
	{ErrRefreshReuse, Response{http.StatusUnauthorized, "refresh_reuse", "session revoked or unknown"}},
	{ErrUnauthenticated, Response{http.StatusUnauthorized, "unauthenticated", "authentication required"}},
	{ErrForbidden, Response{http.StatusForbidden, "forbidden", "insufficient permissions"}},
	{ErrNotFound, Response{http.StatusNotFound, "not_found", "not found"}},
	{ErrInvalidInput, Response{http.StatusBadRequest, "invalid_input", "invalid input"}},
}

// HTTPStatus maps err to the response a client should see. Unknown errors
// (including ErrConfig, which should never reach a request) become a 500.
func HTTPStatus(err error) Response {
	for _, row := range table {
		if errors.Is(err, row.kind) {
			return row.resp
		}
	}
	return Response{http.StatusInternalServerError, "internal_error", "internal error"}
}

// IsConflict reports whether err is a uniqueness violation and, when known,
// which field collided.
func IsConflict(err error) (string, bool) {
	var ce ConflictError
	if errors.As(err, &ce) {
		return ce.Field, true
	}
	return "", errors.Is(err, ErrConflict)
}
