package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/artemmail/scriptor-sub002/internal/http/handlers"
	httpMW "github.com/artemmail/scriptor-sub002/internal/http/middleware"
	"github.com/artemmail/scriptor-sub002/internal/observability"
	"github.com/artemmail/scriptor-sub002/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler   *httpH.HealthHandler
	JobHandler      *httpH.JobHandler
	BillingHandler  *httpH.BillingHandler
	WebhookHandler  *httpH.WebhookHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("scriptor"))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Gateway callback: authenticated by HMAC signature, not by token.
	if cfg.WebhookHandler != nil {
		r.POST("/webhooks/payment", cfg.WebhookHandler.PaymentWebhook)
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.RealtimeHandler != nil {
			protected.GET("/events", cfg.RealtimeHandler.Stream)
		}

		if cfg.JobHandler != nil {
			protected.POST("/jobs", cfg.JobHandler.StartJob)
			protected.GET("/jobs", cfg.JobHandler.ListJobs)
			protected.GET("/jobs/:id", cfg.JobHandler.GetJob)
			protected.GET("/jobs/:id/render", cfg.JobHandler.RenderJob)
			protected.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
		}

		if cfg.BillingHandler != nil {
			protected.GET("/billing/wallet", cfg.BillingHandler.GetWallet)
			protected.GET("/billing/transactions", cfg.BillingHandler.ListTransactions)
			protected.GET("/billing/packages", cfg.BillingHandler.ListPackages)
			protected.GET("/billing/usage", cfg.BillingHandler.ListUsage)
			protected.POST("/billing/deposit", cfg.BillingHandler.StartDeposit)
		}

		if cfg.BillingHandler != nil && cfg.AuthMiddleware != nil {
			admin := protected.Group("/admin")
			admin.Use(cfg.AuthMiddleware.RequireAdmin())
			admin.POST("/packages", cfg.BillingHandler.GrantPackage)
		}
	}

	return r
}
