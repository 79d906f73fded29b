package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kenryalonzo/doualairblog-auth/controllers"
	"github.com/kenryalonzo/doualairblog-auth/logging"
	"github.com/kenryalonzo/doualairblog-auth/middleware"
	"github.com/kenryalonzo/doualairblog-auth/models"
	"github.com/kenryalonzo/doualairblog-auth/sessions"
	"github.com/kenryalonzo/doualairblog-auth/telemetry"
	"github.com/kenryalonzo/doualairblog-auth/utils"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Service        *sessions.Service
	Metrics        *telemetry.Metrics
	Logger         zerolog.Logger
	AllowedOrigins []string
	Cookies        utils.CookieOptions
	// Ready backs /healthz. Nil means always ready.
	Ready func(context.Context) error
}

func corsConfig(origins []string, log zerolog.Logger) cors.Config {
	allowed := map[string]bool{}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = true
		}
	}
	log.Info().Strs("origins", origins).Msg("cors allowed origins")
	return cors.Config{
		AllowOriginFunc:  func(origin string) bool { return allowed[origin] },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(d.Logger))
	r.Use(cors.New(corsConfig(d.AllowedOrigins, d.Logger)))

	r.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	svc, ck := d.Service, d.Cookies
	auth := r.Group("/api/auth")
	{
		auth.POST("/signup", controllers.SignUp(svc))
		auth.POST("/signin", controllers.SignIn(svc, ck))
		auth.POST("/refresh", controllers.Refresh(svc, ck))
		auth.POST("/signout", controllers.SignOut(svc, ck))
	}

	me := auth.Group("")
	me.Use(middleware.AuthMiddleware(svc))
	{
		me.GET("/me", controllers.Me(svc))
		me.DELETE("/me", controllers.DeleteMe(svc, ck))
		me.POST("/me/password", controllers.ChangeMyPassword(svc, ck))
		me.GET("/sessions", controllers.ListSessions(svc))
		me.DELETE("/sessions", controllers.SignOutAll(svc, ck))
		me.DELETE("/sessions/:id", controllers.RevokeSession(svc))
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(svc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/users", controllers.CreateUser(svc))
		admin.PATCH("/users/:id/status", controllers.SetUserStatus(svc))
		admin.DELETE("/users/:id", controllers.DeleteUser(svc))
	}
	return r
}
