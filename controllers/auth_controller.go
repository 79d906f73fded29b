package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/dto"
	"github.com/kenryalonzo/doualairblog-auth/middleware"
	"github.com/kenryalonzo/doualairblog-auth/sessions"
	"github.com/kenryalonzo/doualairblog-auth/utils"
)

// respondError maps err to its client response. Errors that end up as 5xx
// are attached to the context so the request logger records them.
func respondError(c *gin.Context, err error) {
	resp := apperr.HTTPStatus(err)
	if resp.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(resp.Status, gin.H{"error": resp.Message, "code": resp.Code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
}

// refreshTokenFrom reads the refresh_token cookie, falling back to a JSON
// body field for clients that cannot hold cookies.
func refreshTokenFrom(c *gin.Context) string {
	if v, err := c.Cookie(utils.RefreshCookieName); err == nil && v != "" {
		return v
	}
	var body dto.RefreshDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		return ""
	}
	return body.RefreshToken
}

// POST /api/auth/signup
func SignUp(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.SignUpDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		u, err := svc.SignUp(c.Request.Context(), sessions.SignUpInput{
			Username: body.Username,
			Email:    body.Email,
			Password: body.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

// POST /api/auth/signin
func SignIn(svc *sessions.Service, cookies utils.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.SignInDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		iss, err := svc.SignIn(c.Request.Context(), body.Email, body.Password, c.Request.UserAgent())
		if err != nil {
			respondError(c, err)
			return
		}
		utils.SetSessionCookies(c.Writer, cookies, iss.AccessToken, iss.RefreshToken)
		c.JSON(http.StatusOK, gin.H{
			"user":         iss.User,
			"accessToken":  iss.AccessToken,
			"refreshToken": iss.RefreshToken,
			"sessionId":    iss.SessionID,
		})
	}
}

// POST /api/auth/refresh
func Refresh(svc *sessions.Service, cookies utils.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := refreshTokenFrom(c)
		if token == "" {
			respondError(c, apperr.E("controllers.Refresh", apperr.ErrUnauthenticated, "missing refresh token"))
			return
		}
		iss, err := svc.Refresh(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}
		out := gin.H{"accessToken": iss.AccessToken}
		if iss.Rotated {
			utils.SetSessionCookies(c.Writer, cookies, iss.AccessToken, iss.RefreshToken)
			out["refreshToken"] = iss.RefreshToken
		} else {
			utils.SetAccessCookie(c.Writer, cookies, iss.AccessToken)
		}
		c.JSON(http.StatusOK, out)
	}
}

// POST /api/auth/signout
func SignOut(svc *sessions.Service, cookies utils.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := refreshTokenFrom(c)
		utils.ClearSessionCookies(c.Writer, cookies)

		// best effort revoke
		svc.SignOut(c.Request.Context(), token)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// GET /api/auth/me
func Me(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		u, err := svc.GetUser(c.Request.Context(), id.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// DELETE /api/auth/me
func DeleteMe(svc *sessions.Service, cookies utils.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		if err := svc.DeleteAccount(c.Request.Context(), id.ID); err != nil {
			respondError(c, err)
			return
		}
		utils.ClearSessionCookies(c.Writer, cookies)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// POST /api/auth/me/password
func ChangeMyPassword(svc *sessions.Service, cookies utils.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.ChangePasswordDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		id, _ := middleware.CurrentIdentity(c)
		if err := svc.ChangePassword(c.Request.Context(), id.ID, body.CurrentPassword, body.NewPassword); err != nil {
			respondError(c, err)
			return
		}
		// every session was revoked with the old password
		utils.ClearSessionCookies(c.Writer, cookies)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// GET /api/auth/sessions
func ListSessions(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		list, err := svc.ListSessions(c.Request.Context(), id.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	}
}

// DELETE /api/auth/sessions
func SignOutAll(svc *sessions.Service, cookies utils.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		n, err := svc.SignOutAll(c.Request.Context(), id.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		utils.ClearSessionCookies(c.Writer, cookies)
		c.JSON(http.StatusOK, gin.H{"ok": true, "removed": n})
	}
}

// DELETE /api/auth/sessions/:id
func RevokeSession(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.CurrentIdentity(c)
		if err := svc.RevokeSession(c.Request.Context(), id.ID, c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
