package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookiesByName(t *testing.T, rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	t.Helper()
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestSetSessionCookies_Development(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookies(rec, CookieOptions{Production: false, Domain: "example.com"}, "acc", "ref")

	cookies := cookiesByName(t, rec)
	require.Len(t, cookies, 2)

	access := cookies[AccessCookieName]
	require.NotNil(t, access)
	assert.Equal(t, "acc", access.Value)
	assert.Equal(t, 900, access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.False(t, access.Secure)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, "/", access.Path)
	assert.Empty(t, access.Domain, "domain is only set in production")

	refresh := cookies[RefreshCookieName]
	require.NotNil(t, refresh)
	assert.Equal(t, "ref", refresh.Value)
	assert.Equal(t, 604800, refresh.MaxAge)
}

func TestSetSessionCookies_Production(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookies(rec, CookieOptions{Production: true, Domain: "example.com"}, "acc", "ref")

	for _, c := range cookiesByName(t, rec) {
		assert.True(t, c.Secure, c.Name)
		assert.Equal(t, "example.com", c.Domain, c.Name)
	}
}

func TestClearSessionCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	ClearSessionCookies(rec, CookieOptions{Production: true, Domain: "example.com"})

	cookies := cookiesByName(t, rec)
	require.Len(t, cookies, 2)
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c := cookies[name]
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, "example.com", c.Domain)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"Bearer ", "", false},
		{"bearer abc", "", false},
		{"Basic abc", "", false},
		{"Bearer a b", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := ExtractBearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}
