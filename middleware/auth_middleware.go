package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/kenryalonzo/doualairblog-auth/utils"
)

const identityKey = "identity"

// Authenticator verifies an access token and returns the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.Identity, error)
}

// Abort writes the error body for err and stops the handler chain.
func Abort(c *gin.Context, err error) {
	resp := apperr.HTTPStatus(err)
	c.AbortWithStatusJSON(resp.Status, gin.H{"error": resp.Message, "code": resp.Code})
}

// tokenFromRequest prefers the access_token cookie over the bearer header.
func tokenFromRequest(c *gin.Context) (string, bool) {
	if v, err := c.Cookie(utils.AccessCookieName); err == nil && v != "" {
		return v, true
	}
	return utils.ExtractBearerToken(c.GetHeader("Authorization"))
}

func authenticate(c *gin.Context, auth Authenticator, token string) bool {
	id, err := auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		Abort(c, err)
		return false
	}
	c.Set(identityKey, id)
	c.Set("userID", id.ID)
	c.Set("email", id.Email)
	c.Set("role", string(id.Role))
	return true
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := tokenFromRequest(c)
		if !ok {
			Abort(c, apperr.E("middleware.AuthMiddleware", apperr.ErrUnauthenticated, "missing token"))
			return
		}
		if authenticate(c, auth, token) {
			c.Next()
		}
	}
}

// OptionalAuthMiddleware authenticates when a token is present and lets
// anonymous requests through. A present but bad token is still rejected.
func OptionalAuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := tokenFromRequest(c)
		if !ok {
			c.Next()
			return
		}
		if authenticate(c, auth, token) {
			c.Next()
		}
	}
}

// RequireRoles must run after AuthMiddleware.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			Abort(c, apperr.E("middleware.RequireRoles", apperr.ErrUnauthenticated, ""))
			return
		}
		if !id.HasRole(roles...) {
			Abort(c, apperr.E("middleware.RequireRoles", apperr.ErrForbidden, string(id.Role)))
			return
		}
		c.Next()
	}
}

// CurrentIdentity returns the identity stored by the auth middleware.
func CurrentIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
