package router

import (
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/event-ticket-reservation/internal/handler"
)

func TestRegisterAPIWiresEveryOperation(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e)
	RegisterAPI(e, nil, &handler.ReservationHandler{}, &handler.CatalogHandler{}, &handler.AdminHandler{})

	routes := make(map[string]bool)
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /healthz",
		"POST /v1/items/:identity/reserve",
		"POST /v1/cart-positions/:id/convert",
		"POST /v1/cart-positions/:id/answers",
		"DELETE /v1/cart-positions/:id",
		"POST /v1/orders/:identity/pay",
		"POST /v1/orders/:identity/cancel",
		"GET /v1/order-positions/:id/answers",
		"PUT /v1/variations/:identity",
		"PUT /v1/property-values/:identity",
		"GET /v1/items/:identity/variations",
		"DELETE /v1/items/:identity",
		"POST /v1/events/:identity/cache/clear",
		"GET /v1/quotas/:identity/availability",
		"POST /v1/quotas/reconcile",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}
