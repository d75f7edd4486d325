package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-ticket-reservation/internal/quota"
	"github.com/iliyamo/event-ticket-reservation/internal/repository"
)

// fail maps domain errors onto HTTP responses so every handler renders
// the same JSON shape for the same failure.
func fail(c echo.Context, err error) error {
	var exceeded *quota.QuotaExceededError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrSignatureConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "combination already has a variation"})
	case errors.Is(err, repository.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.As(err, &exceeded):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":  "quota exceeded",
			"quotas": exceeded.Quotas,
		})
	case errors.Is(err, quota.ErrNotEligible):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, quota.ErrReservationExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "reservation expired"})
	case errors.Is(err, quota.ErrBusy):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "quota busy, try again"})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
