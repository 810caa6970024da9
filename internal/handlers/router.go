package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/turnosalon/salon-payments/internal/auth"
	"github.com/turnosalon/salon-payments/internal/logger"
	"github.com/turnosalon/salon-payments/internal/metrics"
)

// SetupRouter configures the Gin router with all routes.
func SetupRouter(
	handler *PaymentHandler,
	authenticator *auth.Authenticator,
	m *metrics.Metrics,
	log *zap.Logger,
	ginMode string,
) *gin.Engine {
	gin.SetMode(ginMode)

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(logger.GinLogger(log))
	router.Use(CORSMiddleware())

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Success: false, Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Success: false, Error: "not found", Code: "NOT_FOUND"})
	})

	// Health check and metrics (public)
	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Mercado Pago redirects here (state carries the org)
	router.GET("/oauth/mercadopago/callback", handler.OAuthCallback)

	// Webhook endpoint (public, validates x-signature)
	router.POST("/webhooks/mercadopago", handler.HandleWebhook)

	v1 := router.Group("/api/v1")
	{
		// Anonymous booking flow (authorized by the link token)
		public := v1.Group("/public")
		{
			public.GET("/links", handler.PublicLink)
			public.POST("/bookings", handler.PublicBooking)
		}

		// Dashboard routes (requires Bearer auth)
		private := v1.Group("")
		private.Use(AuthMiddleware(authenticator))
		{
			private.POST("/links", handler.IssueLink)
			private.POST("/payments/intents", handler.CreateIntent)
			private.GET("/mercadopago/connect", handler.Connect)
			private.POST("/mercadopago/disconnect", handler.Disconnect)
		}
	}

	return router
}
