package routes

import (
	"net/http"

	"github.com/Cyvadra/tv-bridge/internal/handlers"
	"github.com/Cyvadra/tv-bridge/internal/middleware"
	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps carries everything the route table needs
type Deps struct {
	Trades  *services.TradeService
	Auth    *services.AuthService
	Admin   handlers.AdminServices
	Logger  *zap.Logger
	Version string
}

// SetupRoutes configures all the routes for the application
func SetupRoutes(r *gin.Engine, deps Deps) {
	handlers.RegisterValidators()

	webhook := handlers.NewWebhookHandler(deps.Trades, deps.Admin.Router, deps.Logger)
	admin := handlers.NewAdminHandler(deps.Admin, deps.Logger)
	auth := handlers.NewAuthHandler(deps.Auth, deps.Logger)

	// TradingView webhooks
	r.POST("/webhook", webhook.Handle)
	r.POST("/webhook/:key", webhook.HandleAccount)

	api := r.Group("/api/v1")
	api.POST("/auth/login", auth.Login)

	protected := api.Group("")
	protected.Use(middleware.JWTAuth(deps.Auth, deps.Logger))
	{
		accounts := protected.Group("/accounts")
		{
			accounts.GET("", admin.ListAccounts)
			accounts.POST("", admin.CreateAccount)
			accounts.GET("/:id", admin.GetAccount)
			accounts.PUT("/:id", admin.UpdateAccount)
			accounts.DELETE("/:id", admin.DeleteAccount)
			accounts.POST("/:id/test", admin.TestAccount)
			accounts.POST("/:id/disconnect", admin.DisconnectAccount)
		}

		alerts := protected.Group("/alerts")
		{
			alerts.GET("", admin.ListAlerts)
			alerts.GET("/:id", admin.GetAlert)
			alerts.GET("/:id/executions", admin.GetAlertExecutions)
		}

		protected.GET("/settings", admin.GetSettings)
		protected.PUT("/settings", admin.UpdateSettings)

		symbols := protected.Group("/symbols")
		{
			symbols.GET("", admin.ListSymbols)
			symbols.PUT("/:symbol", admin.UpsertSymbol)
			symbols.DELETE("/:symbol", admin.DeleteSymbol)
		}

		protected.GET("/stats", admin.GetStats)
		protected.GET("/dashboard", admin.GetDashboard)
		protected.GET("/connections", admin.GetConnections)

		brokerGroup := protected.Group("/broker")
		{
			brokerGroup.GET("/status", admin.GetBrokerStatus)
			brokerGroup.GET("/account", admin.GetBrokerAccount)
			brokerGroup.GET("/symbols", admin.GetBrokerSymbols)
			brokerGroup.GET("/symbols/:symbol", admin.GetBrokerSymbol)
			brokerGroup.GET("/positions", admin.GetBrokerPositions)
		}
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "tv-bridge",
		})
	})

	// Root endpoint
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "TradingView Broker Bridge",
			"version": deps.Version,
			"endpoints": gin.H{
				"webhook":         "/webhook",
				"account_webhook": "/webhook/:key",
				"login":           "/api/v1/auth/login",
				"admin":           "/api/v1",
				"health":          "/health",
			},
		})
	})
}
