package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veilnet-io/veilnet/internal/application/fleet"
	"github.com/veilnet-io/veilnet/internal/application/subscription"
	"github.com/veilnet-io/veilnet/internal/application/traffic"
	"github.com/veilnet-io/veilnet/internal/infrastructure/security"
	"github.com/veilnet-io/veilnet/internal/interfaces/http/handlers"
	"github.com/veilnet-io/veilnet/internal/interfaces/http/middleware"
	"github.com/veilnet-io/veilnet/internal/shared/config"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// Router wires the public subscription endpoint and the internal control API.
type Router struct {
	engine              *gin.Engine
	subscriptionHandler *handlers.SubscriptionHandler
	subscriptionAdmin   *handlers.SubscriptionAdminHandler
	fleetHandler        *handlers.FleetHandler
	trafficHandler      *handlers.TrafficHandler
	securityHandler     *handlers.SecurityHandler
	adminAuth           *middleware.AdminAuthMiddleware
	logger              logger.Interface
}

func NewRouter(
	subscriptionSvc *subscription.Service,
	reconciler *fleet.Reconciler,
	ledger *traffic.Ledger,
	guard *security.Guard,
	adminCfg config.AdminConfig,
	log logger.Interface,
) *Router {
	engine := gin.New()

	return &Router{
		engine:              engine,
		subscriptionHandler: handlers.NewSubscriptionHandler(subscriptionSvc, log),
		subscriptionAdmin:   handlers.NewSubscriptionAdminHandler(subscriptionSvc, log),
		fleetHandler:        handlers.NewFleetHandler(reconciler, log),
		trafficHandler:      handlers.NewTrafficHandler(ledger, log),
		securityHandler:     handlers.NewSecurityHandler(guard, log),
		adminAuth:           middleware.NewAdminAuthMiddleware(adminCfg.JWTSecret, log),
		logger:              log,
	}
}

// SetupRoutes configures all HTTP routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Logger(r.logger))
	r.engine.Use(middleware.Recovery())

	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public surface: token in the path is the only credential.
	r.engine.GET("/sub/:token", r.subscriptionHandler.Fetch)

	api := r.engine.Group("/api")
	api.Use(r.adminAuth.RequireAuth())
	{
		api.POST("/fleet/:id/activate", r.fleetHandler.Activate)
		api.POST("/fleet/:id/expire", r.fleetHandler.Expire)
		api.GET("/fleet/:id/status", r.fleetHandler.Status)

		api.GET("/traffic/:id", r.trafficHandler.Usage)
		api.POST("/traffic/:id/reset", r.trafficHandler.Reset)

		api.POST("/subscription/:id/invalidate-cache", r.subscriptionAdmin.InvalidateCache)

		api.GET("/security/stats", r.securityHandler.Stats)
		api.POST("/security/unban", r.securityHandler.Unban)
	}
}

// GetEngine returns the Gin engine.
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
