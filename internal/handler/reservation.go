package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
	queuemsg "github.com/iliyamo/event-ticket-reservation/internal/queue"
	"github.com/iliyamo/event-ticket-reservation/internal/quota"
	"github.com/iliyamo/event-ticket-reservation/internal/repository"
	publisher "github.com/iliyamo/event-ticket-reservation/internal/service"
)

// ReservationHandler exposes the reservation lifecycle: booking units
// into the cart, converting cart positions into orders, releasing
// positions, and reading quota availability.
type ReservationHandler struct {
	Ledger     *quota.Ledger
	Quotas     *repository.QuotaRepo
	Orders     *repository.OrderRepo
	Categories *repository.CategoryRepo
	OrderTerm  time.Duration
}

// NewReservationHandler constructs a ReservationHandler.  All
// dependencies must be non-nil.
func NewReservationHandler(ledger *quota.Ledger, quotas *repository.QuotaRepo, orders *repository.OrderRepo, categories *repository.CategoryRepo, orderTerm time.Duration) *ReservationHandler {
	if ledger == nil || quotas == nil || orders == nil || categories == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Ledger: ledger, Quotas: quotas, Orders: orders, Categories: categories, OrderTerm: orderTerm}
}

// Reserve handles POST /v1/items/:identity/reserve.  The body names an
// optional variation and a unit count; on success each granted unit is
// returned as its own cart position with the frozen price and expiry.
// Sold-out quotas produce 409 with the exhausted quota names.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	itemIdentity := c.Param("identity")
	var body struct {
		VariationIdentity *string `json:"variation_identity"`
		Count             int     `json:"count"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Count <= 0 {
		body.Count = 1
	}
	if body.Count > 100 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "count too large"})
	}

	positions, err := h.Ledger.Reserve(c.Request().Context(), itemIdentity, body.VariationIdentity, body.Count)
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, len(positions))
	for i, p := range positions {
		out[i] = echo.Map{
			"id":                 p.ID,
			"item_identity":      p.ItemIdentity,
			"variation_identity": p.VariationIdentity,
			"price_cents":        p.PriceCents,
			"expires":            p.Expires.UTC(),
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{"cart_positions": out})
}

// Convert handles POST /v1/cart-positions/:id/convert.  The position
// becomes a pending order; conversion never re-checks capacity because
// the unit already counts against the quota.  An order.placed message
// is published best-effort after the order is durable.
func (h *ReservationHandler) Convert(c echo.Context) error {
	positionID := c.Param("id")
	order, err := h.Ledger.Convert(c.Request().Context(), positionID, h.OrderTerm)
	if err != nil {
		return fail(c, err)
	}

	positions, err := h.Orders.Positions(c.Request().Context(), order.Identity)
	if err == nil && len(positions) > 0 {
		ev := queuemsg.OrderPlacedEvent{
			OrderIdentity:     order.Identity,
			EventIdentity:     order.EventIdentity,
			ItemIdentity:      positions[0].ItemIdentity,
			VariationIdentity: positions[0].VariationIdentity,
			TotalCents:        order.TotalCents,
			ExpiresAt:         order.Expires.UTC().Format(time.RFC3339),
			PlacedAt:          order.Datetime.UTC().Format(time.RFC3339),
		}
		// Publishing failures must not fail the conversion; the order
		// is already durable.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = publisher.PublishOrderPlaced(ctx, ev)
		}()
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"order_identity": order.Identity,
		"status":         order.Status,
		"total_cents":    order.TotalCents,
		"expires":        order.Expires.UTC(),
	})
}

// Release handles DELETE /v1/cart-positions/:id, freeing the unit
// immediately instead of waiting for expiry.
func (h *ReservationHandler) Release(c echo.Context) error {
	if err := h.Ledger.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Pay handles POST /v1/orders/:identity/pay, transitioning a pending
// order to paid.
func (h *ReservationHandler) Pay(c echo.Context) error {
	var body struct {
		PaymentInfo *string `json:"payment_info"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Orders.MarkPaid(c.Request().Context(), c.Param("identity"), body.PaymentInfo); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SubmitAnswers handles POST /v1/cart-positions/:id/answers, recording
// the buyer's question answers against the reservation.  Re-submitting
// replaces the previous answers.  On conversion the answers move onto
// the order position automatically.
func (h *ReservationHandler) SubmitAnswers(c echo.Context) error {
	var body struct {
		Answers []struct {
			QuestionIdentity string `json:"question_identity"`
			Answer           string `json:"answer"`
		} `json:"answers"`
	}
	if err := c.Bind(&body); err != nil || len(body.Answers) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "answers are required"})
	}
	answers := make([]model.QuestionAnswer, 0, len(body.Answers))
	for _, a := range body.Answers {
		if a.QuestionIdentity == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "question_identity is required"})
		}
		answers = append(answers, model.QuestionAnswer{
			QuestionIdentity: a.QuestionIdentity,
			Answer:           a.Answer,
		})
	}
	if err := h.Categories.SaveCartAnswers(c.Request().Context(), c.Param("id"), answers); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// OrderAnswers handles GET /v1/order-positions/:id/answers.
func (h *ReservationHandler) OrderAnswers(c echo.Context) error {
	answers, err := h.Categories.AnswersByOrderPosition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, len(answers))
	for i := range answers {
		out[i] = echo.Map{
			"question_identity": answers[i].QuestionIdentity,
			"answer":            answers[i].Answer,
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"answers": out})
}

// CancelOrder handles POST /v1/orders/:identity/cancel.  Only pending
// orders can be cancelled; their units return to the quota pool
// immediately.
func (h *ReservationHandler) CancelOrder(c echo.Context) error {
	if err := h.Orders.Cancel(c.Request().Context(), c.Param("identity")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Availability handles GET /v1/quotas/:identity/availability.  The
// numbers are a lock-free snapshot for display; a reservation racing
// this read may still be told the quota is exhausted.
func (h *ReservationHandler) Availability(c echo.Context) error {
	q, err := h.Quotas.Head(c.Request().Context(), c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	used, free, err := h.Ledger.Availability(c.Request().Context(), q)
	if err != nil {
		return fail(c, err)
	}
	degraded := false
	for _, identity := range h.Ledger.DegradedQuotas() {
		if identity == q.Identity {
			degraded = true
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"quota_identity": q.Identity,
		"name":           q.Name,
		"size":           q.Size,
		"used":           used,
		"free":           free,
		"degraded":       degraded,
	})
}

// Reconcile handles POST /v1/quotas/reconcile, moving every degraded
// quota back to the primary counting path.  Operational endpoint; call
// it once the lock backend is healthy again.
func (h *ReservationHandler) Reconcile(c echo.Context) error {
	if err := h.Ledger.Reconcile(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
