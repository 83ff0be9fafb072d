package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gestion-judicial/casefile-api/internal/middleware"
	"github.com/gestion-judicial/casefile-api/internal/models"
	"github.com/gestion-judicial/casefile-api/internal/service"
	"github.com/gestion-judicial/casefile-api/pkg/config"
)

// Handlers groups everything the router needs.
type Handlers struct {
	Auth      *AuthHandler
	Users     *UserHandler
	Cases     *CaseHandler
	Documents *DocumentHandler
	Audit     *AuditHandler
	Metrics   *MetricsHandler

	AuthService *service.AuthService
	Config      *config.Config

	// LoginLimiter throttles anonymous login attempts. Nil disables it.
	LoginLimiter gin.HandlerFunc
}

// RegisterRoutes mounts all API routes on the engine. Fine-grained
// authorization lives in the services; the route-level gates only cut off
// role groups that could never pass them.
func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if h.Config == nil || h.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/api/v1"
	if h.Config != nil && h.Config.APIPrefix != "" {
		prefix = h.Config.APIPrefix
	}
	api := r.Group(prefix)

	auth := api.Group("/auth")
	{
		if h.LoginLimiter != nil {
			auth.POST("/login", h.LoginLimiter, h.Auth.Login)
		} else {
			auth.POST("/login", h.Auth.Login)
		}
		auth.POST("/refresh", h.Auth.Refresh)

		protected := auth.Group("")
		protected.Use(middleware.JWT(h.AuthService))
		protected.POST("/logout", h.Auth.Logout)
		protected.POST("/change-password", h.Auth.ChangePassword)
		protected.GET("/me", h.Auth.Me)
	}

	users := api.Group("/users")
	users.Use(middleware.JWT(h.AuthService))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleClerk), h.Users.List)
		users.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleClerk), h.Users.Create)
		users.GET("/judges", middleware.RequireRoles(models.RoleAdmin, models.RoleClerk), h.Users.ListJudges)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleClerk), "SELF"), h.Users.Get)
		users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleClerk), h.Users.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), h.Users.Delete)
	}

	cases := api.Group("/cases")
	cases.Use(middleware.JWT(h.AuthService))
	{
		cases.GET("", h.Cases.List)
		cases.POST("", h.Cases.Create)
		cases.GET("/statistics", h.Cases.Statistics)
		cases.GET("/:id", h.Cases.Get)
		cases.PUT("/:id", h.Cases.Update)
		cases.PATCH("/:id/status", h.Cases.UpdateStatus)
		cases.POST("/:id/assign", h.Cases.Assign)
		cases.DELETE("/:id", h.Cases.Delete)
	}

	documents := api.Group("/documents")
	{
		// token-authorized, no session required
		documents.GET("/:id/content", h.Documents.Content)

		protected := documents.Group("")
		protected.Use(middleware.JWT(h.AuthService))
		protected.POST("", h.Documents.Upload)
		protected.GET("", h.Documents.List)
		protected.GET("/:id", h.Documents.Get)
		protected.GET("/:id/download", h.Documents.DownloadURL)
	}

	audit := api.Group("/audit")
	audit.Use(middleware.JWT(h.AuthService))
	audit.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleClerk))
	{
		audit.GET("", h.Audit.List)
		audit.GET("/stats", h.Audit.Stats)
		audit.GET("/export", h.Audit.Export)
		audit.GET("/:id", h.Audit.Get)
		audit.POST("/purge", h.Audit.Purge)
	}
}
