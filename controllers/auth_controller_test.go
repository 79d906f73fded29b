package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/repository"
	"github.com/kenryalonzo/doualairblog-auth/sessions"
	"github.com/kenryalonzo/doualairblog-auth/tokens"
	"github.com/kenryalonzo/doualairblog-auth/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *sessions.Service {
	t.Helper()
	codec, err := tokens.NewCodec("access", "refresh")
	require.NoError(t, err)
	return sessions.NewService(repository.NewMemoryStore(), codec, tokens.NewHasher(""), sessions.Options{Logger: zerolog.Nop()})
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.E("op", apperr.ErrTokenExpired, ""), http.StatusUnauthorized, "token_expired"},
		{apperr.ConflictError{Op: "op", Field: "email"}, http.StatusConflict, "conflict"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, tt.err)
		assert.Equal(t, tt.status, w.Code)
		assert.Equal(t, tt.code, decode(t, w)["code"])
		if tt.status >= 500 {
			assert.Len(t, c.Errors, 1)
			assert.NotContains(t, w.Body.String(), "boom")
		} else {
			assert.Empty(t, c.Errors)
		}
	}
}

func TestRefreshAndSignOut_FromJSONBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newService(t)
	ck := utils.CookieOptions{}
	r := gin.New()
	r.POST("/refresh", Refresh(svc, ck))
	r.POST("/signout", SignOut(svc, ck))

	ctx := context.Background()
	_, err := svc.SignUp(ctx, sessions.SignUpInput{Username: "hal", Email: "hal@example.com", Password: "secret1"})
	require.NoError(t, err)
	iss, err := svc.SignIn(ctx, "hal@example.com", "secret1", "")
	require.NoError(t, err)

	w := post(r, "/refresh", `{"refreshToken":"`+iss.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["accessToken"])

	w = post(r, "/signout", `{"refreshToken":"`+iss.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	list, err := svc.ListSessions(ctx, iss.User.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, list)

	w = post(r, "/refresh", `not json`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignIn_BindingErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/signin", SignIn(newService(t), utils.CookieOptions{}))

	for _, body := range []string{`{}`, `{"email":"not-an-email","password":"x"}`, `[`} {
		w := post(r, "/signin", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_input", decode(t, w)["code"])
	}
}

func TestSignIn_DeviceInfoFromUserAgent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newService(t)
	r := gin.New()
	r.POST("/signin", SignIn(svc, utils.CookieOptions{}))

	_, err := svc.SignUp(context.Background(), sessions.SignUpInput{Username: "ivy", Email: "ivy@example.com", Password: "secret1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/signin", strings.NewReader(`{"email":"ivy@example.com","password":"secret1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Firefox/130")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	user := decode(t, w)["user"].(map[string]any)
	list, err := svc.ListSessions(context.Background(), user["id"].(string))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Firefox/130", list[0].DeviceInfo)
}
