package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-ticket-reservation/internal/config"
	"github.com/iliyamo/event-ticket-reservation/internal/handler"
	"github.com/iliyamo/event-ticket-reservation/internal/middleware"
)

// RegisterRoutes registers routes that do not require rate limiting on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers or monitoring systems to verify that the
	// service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterAPI registers the versioned API surface.  All /v1 routes
// share the token-bucket rate limiter; when Redis is unavailable the
// limiter degrades to a pass-through.
func RegisterAPI(e *echo.Echo, rdb *redis.Client, reservations *handler.ReservationHandler, catalog *handler.CatalogHandler, admin *handler.AdminHandler) {
	g := e.Group("/v1")
	g.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	// Catalog administration.
	g.POST("/organizers", admin.CreateOrganizer)
	g.POST("/organizers/:identity/events", admin.CreateEvent)
	g.GET("/events/:identity", admin.GetEvent)
	g.PUT("/events/:identity", admin.UpdateEvent)
	g.POST("/events/:identity/items", admin.CreateItem)
	g.GET("/items/:identity", admin.GetItem)
	g.PUT("/items/:identity", admin.UpdateItem)
	g.PUT("/items/:identity/properties", admin.SetItemProperties)
	g.POST("/events/:identity/properties", admin.CreateProperty)
	g.POST("/properties/:identity/values", admin.CreatePropertyValue)
	g.PUT("/property-values/:identity", admin.UpdatePropertyValue)
	g.POST("/items/:identity/variations", admin.CreateVariation)
	g.PUT("/variations/:identity", admin.UpdateVariation)
	g.POST("/events/:identity/quotas", admin.CreateQuota)
	g.POST("/events/:identity/restrictions", admin.CreateRestriction)
	g.DELETE("/restrictions/:identity", admin.DeleteRestriction)

	// Catalog reads and administration.
	g.GET("/events/:identity/items", catalog.ListItems)
	g.GET("/events/:identity/categories", catalog.ListCategories)
	g.GET("/items/:identity/variations", catalog.Variations)
	g.GET("/items/:identity/questions", catalog.ItemQuestions)
	g.DELETE("/items/:identity", catalog.DeleteItem)
	g.POST("/events/:identity/cache/clear", catalog.ClearCache)

	// Reservation lifecycle.
	g.POST("/items/:identity/reserve", reservations.Reserve)
	g.POST("/cart-positions/:id/convert", reservations.Convert)
	g.POST("/cart-positions/:id/answers", reservations.SubmitAnswers)
	g.DELETE("/cart-positions/:id", reservations.Release)
	g.POST("/orders/:identity/pay", reservations.Pay)
	g.POST("/orders/:identity/cancel", reservations.CancelOrder)
	g.GET("/order-positions/:id/answers", reservations.OrderAnswers)

	// Quota visibility and recovery.
	g.GET("/quotas/:identity/availability", reservations.Availability)
	g.POST("/quotas/reconcile", reservations.Reconcile)
}
