package utils

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"

	// Max-Age values in seconds, matching the token lifetimes.
	AccessCookieMaxAge  = 15 * 60
	RefreshCookieMaxAge = 7 * 24 * 60 * 60
)

// CookieOptions holds the environment-derived cookie attributes.
type CookieOptions struct {
	Production bool
	Domain     string
}

func (o CookieOptions) cookie(name, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   o.Production,
		SameSite: http.SameSiteStrictMode,
	}
	// Cookie domain is only pinned in production; locally the host is used.
	if o.Production && o.Domain != "" {
		c.Domain = o.Domain
	}
	if maxAge < 0 {
		c.Value = ""
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// SetSessionCookies writes both session cookies.
func SetSessionCookies(w http.ResponseWriter, opts CookieOptions, accessToken, refreshToken string) {
	http.SetCookie(w, opts.cookie(AccessCookieName, accessToken, AccessCookieMaxAge))
	http.SetCookie(w, opts.cookie(RefreshCookieName, refreshToken, RefreshCookieMaxAge))
}

// SetAccessCookie writes only the access cookie, as after a refresh.
func SetAccessCookie(w http.ResponseWriter, opts CookieOptions, accessToken string) {
	http.SetCookie(w, opts.cookie(AccessCookieName, accessToken, AccessCookieMaxAge))
}

// ClearSessionCookies expires both cookies using the same attributes they
// were set with, otherwise browsers keep the originals.
func ClearSessionCookies(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, opts.cookie(AccessCookieName, "", -1))
	http.SetCookie(w, opts.cookie(RefreshCookieName, "", -1))
}

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>"
// header value. Any other scheme or shape is rejected.
func ExtractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := header[len(prefix):]
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
