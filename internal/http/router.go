// README: HTTP router registration.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"quickassist/internal/http/handlers"
	"quickassist/internal/http/middleware"
	"quickassist/internal/infra"
	"quickassist/internal/types"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

type RouterDeps struct {
	AllowedOrigins []string
	Log            logrus.FieldLogger
	Verifier       infra.TokenVerifier
	Principals     middleware.PrincipalResolver
	Health         map[string]HealthCheck

	Users     *handlers.UserHandler
	Catalog   *handlers.CatalogHandler
	Providers *handlers.ProviderHandler
	Bookings  *handlers.BookingHandler
	Payments  *handlers.PaymentHandler
	Admin     *handlers.AdminHandler
	Realtime  *handlers.RealtimeHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log))
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))

	r.GET("/health", healthHandler(d.Health))

	public := r.Group("/api")
	{
		public.GET("/categories", d.Catalog.Categories)
		public.GET("/services", d.Catalog.Services)
		public.GET("/services/:id/quote", d.Catalog.Quote)
		public.GET("/providers", d.Providers.Directory)
		public.GET("/providers/:id", d.Providers.Public)
		public.POST("/payments/callback", d.Payments.Callback)
	}

	authed := r.Group("")
	authed.Use(middleware.Auth(d.Verifier))

	// Registration only needs a verified token; there is no account row yet.
	authed.POST("/api/users/register", d.Users.Register)

	member := authed.Group("")
	member.Use(middleware.Resolve(d.Principals))
	{
		member.GET("/api/users/me", d.Users.Me)
		member.PATCH("/api/users/me", d.Users.UpdateContact)

		prov := member.Group("/api/provider")
		prov.Use(middleware.RequireRole(types.RoleProvider))
		prov.GET("/profile", d.Providers.Profile)
		prov.PATCH("/profile", d.Providers.UpdateProfile)
		prov.PATCH("/status", d.Providers.SetStatus)
		prov.POST("/location", d.Providers.UpdateLocation)

		b := member.Group("/api/bookings")
		b.POST("", middleware.RequireRole(types.RoleCustomer), d.Bookings.Create)
		b.GET("", d.Bookings.List)
		b.GET("/:id", d.Bookings.Get)
		b.GET("/:id/history", d.Bookings.History)
		b.POST("/:id/accept", d.Bookings.Accept)
		b.POST("/:id/decline", d.Bookings.Decline)
		b.POST("/:id/start", d.Bookings.Start)
		b.POST("/:id/complete", d.Bookings.Complete)
		b.POST("/:id/cancel", d.Bookings.Cancel)
		b.POST("/:id/rate", d.Bookings.Rate)
		b.POST("/:id/pay", d.Bookings.Pay)
		b.GET("/:id/payments", d.Bookings.Payments)
		b.GET("/:id/messages", d.Realtime.Messages)

		member.GET("/ws/chat/:id", d.Realtime.Chat)
		member.GET("/ws/location/:id", d.Realtime.Location)

		admin := member.Group("/api/admin")
		admin.Use(middleware.RequireRole(types.RoleAdmin))
		admin.GET("/stats", d.Admin.Stats)
		admin.GET("/recent-bookings", d.Admin.RecentBookings)
		admin.GET("/users", d.Admin.Users)
		admin.PATCH("/users/:id", d.Admin.UpdateUser)
		admin.PATCH("/providers/:id/verify", d.Admin.VerifyProvider)
		admin.POST("/categories", d.Admin.CreateCategory)
		admin.POST("/services", d.Admin.CreateService)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	return cfg
}

// healthHandler answers 200 when every check passes and 503 otherwise, listing each result.
func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
