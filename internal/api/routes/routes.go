// Package routes wires handlers and middleware into the gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sendramp/ramp-service/internal/api/handlers"
	"github.com/sendramp/ramp-service/internal/api/middleware"
	"github.com/sendramp/ramp-service/internal/api/validation"
	"github.com/sendramp/ramp-service/internal/infrastructure/cache"
	"github.com/sendramp/ramp-service/internal/infrastructure/config"
	"github.com/sendramp/ramp-service/pkg/logger"
)

// Dependencies carries everything the route table needs.
type Dependencies struct {
	Config    *config.Config
	DB        *sqlx.DB
	Redis     cache.RedisClient
	Onramp    handlers.OnrampService
	Offramp   handlers.OfframpService
	Transfers handlers.TransferFinalizer
	Logger    *logger.Logger
	Version   string
}

// SetupRoutes configures all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := validation.Register(); err != nil {
		deps.Logger.Error("failed to register binding validations", "error", err)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.RateLimit(deps.Config.Server.RateLimitPerMin))

	healthHandlers := handlers.NewHealthHandlers(deps.DB, deps.Redis, deps.Version)
	onrampHandlers := handlers.NewOnrampHandlers(deps.Onramp, deps.Logger)
	offrampHandlers := handlers.NewOfframpHandlers(deps.Offramp, deps.Logger)
	webhookHandlers := handlers.NewPaystackWebhookHandlers(
		deps.Onramp,
		deps.Transfers,
		deps.Redis,
		deps.Config.Paystack.SecretKey,
		deps.Logger,
	)

	router.GET("/health", healthHandlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/paystack", webhookHandlers.HandleEvent)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/onramp", onrampHandlers.Create)
		v1.GET("/onramp/:id", onrampHandlers.Get)
		v1.POST("/onramp/:id/verify", onrampHandlers.Verify)

		v1.POST("/offramp", offrampHandlers.Start)
		v1.GET("/offramp/:id", offrampHandlers.Get)
		v1.POST("/offramp/:id/check", offrampHandlers.Check)
	}

	return router
}
