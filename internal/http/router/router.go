package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/config"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/handlers"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/middleware"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/metrics"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/models"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
)

// Handlers набор хэндлеров API.
type Handlers struct {
	Health        *handlers.HealthHandler
	Auth          *handlers.AuthHandler
	Orders        *handlers.OrderHandler
	Payments      *handlers.PaymentHandler
	Admin         *handlers.AdminHandler
	Notifications *handlers.NotificationHandler
	WS            *handlers.WSHandler
}

func SetupRouter(
	cfg *config.Config,
	h Handlers,
	tokenManager *service.TokenManager,
	rateStore limiter.Store,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(metrics.Middleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.GET("/ws", h.WS.Handle)

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(rateStore, 5, cfg.RateLimitPeriod))
	{
		authGroup.POST("/admin", h.Auth.AdminLogin)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	protected.Use(middleware.RateLimitMiddleware(rateStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		protected.GET("/balance", h.Payments.GetBalance)
		protected.GET("/balance/transactions", h.Payments.ListTransactions)

		protected.POST("/orders", h.Orders.CreateOrder)
		protected.GET("/orders", h.Orders.ListOrders)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), h.Orders.GetOrder)
		protected.GET("/orders/:id/history", middleware.UUIDValidator("id"), h.Orders.GetHistory)
		protected.POST("/orders/:id/transitions", middleware.UUIDValidator("id"), h.Orders.Transition)

		protected.GET("/notifications", h.Notifications.ListNotifications)
		protected.GET("/notifications/unread/count", h.Notifications.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notifications.MarkAsRead)
		protected.PUT("/notifications/read-all", h.Notifications.MarkAllAsRead)
	}

	isAdmin := func(userID int64, role string) bool {
		return role == models.UserRoleAdmin || cfg.IsAdmin(userID)
	}
	admin := protected.Group("/admin")
	admin.Use(middleware.AdminOnly(isAdmin))
	{
		admin.GET("/orders", h.Admin.ListOrders)
		admin.POST("/orders/:id/refund", middleware.UUIDValidator("id"), h.Admin.Refund)
		admin.POST("/orders/:id/force-complete", middleware.UUIDValidator("id"), h.Admin.ForceComplete)
		admin.POST("/users/:id/deposit", h.Admin.Deposit)
	}

	return r
}
