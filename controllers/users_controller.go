package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kenryalonzo/doualairblog-auth/dto"
	"github.com/kenryalonzo/doualairblog-auth/middleware"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/kenryalonzo/doualairblog-auth/sessions"
)

// POST /api/admin/users
func CreateUser(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.CreateUserDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		u, err := svc.SignUp(c.Request.Context(), sessions.SignUpInput{
			Username: body.Username,
			Email:    body.Email,
			Password: body.Password,
			Role:     models.Role(body.Role),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

// PATCH /api/admin/users/:id/status
func SetUserStatus(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body dto.SetStatusDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
		userID := c.Param("id")
		if err := svc.SetActive(c.Request.Context(), userID, *body.IsActive); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": userID, "isActive": *body.IsActive})
	}
}

// DELETE /api/admin/users/:id
func DeleteUser(svc *sessions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")
		if me, ok := middleware.CurrentIdentity(c); ok && me.ID == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "use DELETE /api/auth/me to delete your own account", "code": "invalid_input"})
			return
		}
		if err := svc.DeleteAccount(c.Request.Context(), userID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
