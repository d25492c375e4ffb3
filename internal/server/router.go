package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mizusense/suimon/internal/auth"
	"github.com/mizusense/suimon/internal/idp"
	"github.com/mizusense/suimon/internal/registry"
	"github.com/mizusense/suimon/internal/server/db"
	"github.com/mizusense/suimon/internal/server/handler"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(store *db.Store, verifier auth.Verifier, provider idp.Provider, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	admin := AdminAuth(cfg.AdminToken)
	user := UserAuth(verifier)
	optional := OptionalUserAuth(verifier)

	coord := registry.NewCoordinator(store)

	v1 := r.Group("/v1")
	{
		// Authentication
		v1.POST("/auth/login", handler.HandleLogin(provider))
		v1.POST("/auth/signup", handler.HandleSignup(provider, store))
		v1.POST("/auth/confirm-signup", handler.HandleConfirmSignup(provider))
		v1.POST("/auth/refresh", handler.HandleRefresh(provider))
		v1.POST("/auth/forgot-password", handler.HandleForgotPassword(provider))
		v1.POST("/auth/confirm-forgot-password", handler.HandleConfirmForgotPassword(provider))
		v1.POST("/auth/change-password", user, handler.HandleChangePassword(provider))
		v1.POST("/auth/logout", handler.HandleLogout())
		v1.GET("/auth/me", user, handler.HandleMe())

		// Device catalog
		v1.POST("/devices", admin, handler.HandleCreateDevice(store))
		v1.GET("/devices", optional, handler.HandleListDevices(store))
		v1.GET("/devices/:id", optional, handler.HandleGetDevice(coord))

		// Ownership
		v1.POST("/devices/claim", user, handler.HandleClaimDevice(coord))
		v1.GET("/ownerships", user, handler.HandleListOwnerships(coord))

		// Measurements
		v1.GET("/devices/:id/latest", optional, handler.HandleLatestMeasurement(store))
		v1.GET("/devices/:id/measurements", optional, handler.HandleMeasurementRange(store))
		v1.POST("/devices/:id/measurements", admin, handler.HandleIngestMeasurement(store))
	}

	return r
}
