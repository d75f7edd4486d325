package quota

import (
	"errors"
	"strings"
)

var (
	// ErrBusy is returned when a quota lock is held by someone else and
	// the bounded retries ran out.  Callers should tell the user to try
	// again rather than wait.
	ErrBusy = errors.New("quota: lock busy")

	// ErrBackendUnavailable is returned by a lock backend that cannot
	// reach its store.  The ledger reacts by switching the affected
	// quota into degraded mode.
	ErrBackendUnavailable = errors.New("quota: lock backend unavailable")

	// ErrNotEligible is returned when a restriction or sale state rules
	// the requested unit out before any capacity is considered.
	ErrNotEligible = errors.New("quota: not eligible for reservation")

	// ErrReservationExpired is returned when a cart position is
	// converted after its expiry.  The unit may already be resold.
	ErrReservationExpired = errors.New("quota: reservation expired")
)

// QuotaExceededError reports which quotas ran out of headroom.  All
// covering quotas must have room; the error names every one that does
// not, so the caller can show the user what exactly is sold out.
type QuotaExceededError struct {
	Quotas []string
}

func (e *QuotaExceededError) Error() string {
	if len(e.Quotas) == 0 {
		return "quota: no quota covers this item"
	}
	return "quota: capacity exhausted: " + strings.Join(e.Quotas, ", ")
}
