package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/controllers"
	"github.com/yeremiapane/restaurant-sync/database"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/middlewares"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
	"gorm.io/gorm"
)

// Options are the collaborators the store service is built from. Zero
// values get sensible defaults.
type Options struct {
	Signer     *utils.TokenSigner
	Hub        *kds.Hub
	CORSOrigin string
	// Registry receives the HTTP metrics and backs /metrics. Nil disables both.
	Registry *prometheus.Registry
	// Limiter guards login.
	Limiter *middlewares.RateLimiter
	// CheckoutLimiter guards the public menu checkout with its own buckets,
	// so diners and staff logins behind one address do not starve each other.
	CheckoutLimiter *middlewares.RateLimiter
}

func SetupRouter(db *gorm.DB, opts Options) *gin.Engine {
	if opts.Hub == nil {
		opts.Hub = kds.NewHub()
	}
	if opts.Limiter == nil {
		opts.Limiter = middlewares.NewStrictRateLimiter()
	}
	if opts.CheckoutLimiter == nil {
		opts.CheckoutLimiter = middlewares.NewCheckoutRateLimiter()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// Apply security middlewares
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(opts.CORSOrigin))
	r.Use(middlewares.LoggerMiddleware())
	if opts.Registry != nil {
		r.Use(middlewares.NewHTTPMetrics(opts.Registry).Middleware())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	// Inisialisasi controller
	userCtrl := controllers.NewUserController(db, opts.Signer)
	orderCtrl := controllers.NewOrderController(database.NewOrderRepository(db), opts.Hub)
	hubCtrl := controllers.NewChangeHubController(opts.Hub)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Rate limiter terpisah untuk login dan checkout menu digital
	r.POST("/login", opts.Limiter.RateLimit(), userCtrl.Login)
	r.POST("/api/menu/orders", opts.CheckoutLimiter.RateLimit(), orderCtrl.CreateMenuOrder)

	// Change hub websocket; token lewat query string
	r.GET("/ws/orders", middlewares.WebSocketAuthMiddleware(opts.Signer), hubCtrl.Connect)

	// ----------------------------------------------------------------
	//                      AUTHENTICATED ROUTES
	// ----------------------------------------------------------------
	auth := r.Group("/api")
	auth.Use(middlewares.AuthMiddleware(opts.Signer))

	auth.GET("/profile", userCtrl.GetProfile)
	auth.POST("/users", middlewares.RequireRole(models.RoleAdmin), userCtrl.Register)

	// ORDERS
	auth.GET("/orders", orderCtrl.GetAllOrders)
	auth.POST("/orders", middlewares.RequirePermission(access.OpCreate), orderCtrl.CreateOrder)
	auth.PUT("/orders/:order_id/status", middlewares.RequirePermission(access.OpStatus), orderCtrl.UpdateOrderStatus)
	auth.PUT("/orders/:order_id/payment", middlewares.RequirePermission(access.OpPayment), orderCtrl.UpdateOrderPayment)
	auth.DELETE("/orders/:order_id", middlewares.RequirePermission(access.OpDelete), orderCtrl.DeleteOrder)
	auth.DELETE("/orders", middlewares.RequirePermission(access.OpDeleteAll), orderCtrl.DeleteAllOrders)

	return r
}
