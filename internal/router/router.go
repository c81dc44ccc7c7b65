package router

import (
	"net/http"

	"lipa/config"
	"lipa/internal/handler"
	"lipa/internal/middleware"
	"lipa/internal/service"
	"lipa/internal/ws"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Deps are the wired services the HTTP surface needs.
type Deps struct {
	Initiator *service.Initiator
	Status    *service.StatusService
	Callbacks *service.CallbackService
	Limiter   middleware.Limiter
	Ready     func() error
}

func Setup(cfg *config.Config, deps Deps, logger *zap.Logger) (*gin.Engine, error) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("lipa"))
	r.Use(middleware.RequestID())
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", middleware.PrometheusHandler())

	paymentHandler := handler.NewPaymentHandler(deps.Initiator, deps.Status, logger)
	webhookHandler := handler.NewMpesaWebhookHandler(deps.Callbacks, logger)

	// Client routes are only guarded when a JWT secret is configured.
	clientMw := []gin.HandlerFunc{}
	if cfg.JWT.AccessSecret != "" {
		clientMw = append(clientMw, middleware.AuthRequired(&cfg.JWT))
	}
	initiateMw := append([]gin.HandlerFunc{}, clientMw...)
	if deps.Limiter != nil {
		initiateMw = append(initiateMw, middleware.RateLimit(deps.Limiter, logger))
	}

	api := r.Group("/api/v1")
	{
		payments := api.Group("/payments/mpesa")
		{
			payments.POST("/initiate", append(initiateMw, paymentHandler.Initiate)...)
			payments.GET("/status", append(clientMw, paymentHandler.Status)...)
			payments.GET("/status/:id", append(clientMw, paymentHandler.StatusByID)...)
			// Browsers cannot set headers on a websocket upgrade; the token rides in ?token=.
			payments.GET("/status/:id/watch", ws.StatusWatch(deps.Status, &cfg.JWT, logger))
		}
		// Safaricom posts here; it cannot carry our token.
		api.POST("/webhooks/mpesa", webhookHandler.Handle)
	}

	return r, nil
}
