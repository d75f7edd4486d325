package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// Store is the durable side of the ledger: capacity questions are
// answered from it and every granted reservation is persisted through
// it before the quota locks are released.
type Store interface {
	// ItemForSale returns the head of a sellable item; inactive or
	// deleted items look like missing ones.
	ItemForSale(ctx context.Context, itemIdentity string) (*model.Item, error)
	// Variation returns the head of a variation.
	Variation(ctx context.Context, variationIdentity string) (*model.ItemVariation, error)
	// CoveringQuotas returns the quotas whose scope includes the unit,
	// ordered by identity.
	CoveringQuotas(ctx context.Context, eventIdentity, itemIdentity string, variationIdentity *string) ([]model.Quota, error)
	// QuotaUsage counts consumed capacity from the authoritative tables.
	QuotaUsage(ctx context.Context, q *model.Quota, now time.Time) (int64, error)
	// FallbackUsage counts consumed capacity from the persisted
	// membership sets maintained for degraded mode.
	FallbackUsage(ctx context.Context, quotaIdentity string, now time.Time) (int64, error)
	// RebuildQuotaCaches repopulates a quota's membership sets from the
	// authoritative tables.
	RebuildQuotaCaches(ctx context.Context, q *model.Quota, now time.Time) error
	// ClearQuotaCaches drops a quota's membership sets.
	ClearQuotaCaches(ctx context.Context, quotaIdentity string) error
	// CreateCartPositions persists granted reservations, registering
	// them in the membership sets of the named quotas when asked to.
	CreateCartPositions(ctx context.Context, positions []model.CartPosition, quotaIdentities []string, recordFallback bool) error
	// CartPosition returns one reservation by ID.
	CartPosition(ctx context.Context, id string) (*model.CartPosition, error)
	// DeleteCartPosition releases one reservation.
	DeleteCartPosition(ctx context.Context, id string) error
	// ConvertCartPosition turns a reservation into a pending order.
	ConvertCartPosition(ctx context.Context, positionID string, expires time.Time) (*model.Order, error)
	// ExpiredCartPositions lists overdue reservations.
	ExpiredCartPositions(ctx context.Context, now time.Time, limit int) ([]model.CartPosition, error)
	// ReapCartPositions removes overdue reservations.
	ReapCartPositions(ctx context.Context, ids []string) error
}

// Eligibility is consulted before any capacity is considered.  The
// restriction layer plugs in here; a nil Eligibility allows everything.
type Eligibility interface {
	CheckReservable(ctx context.Context, eventIdentity, itemIdentity string, variationIdentity *string, now time.Time) error
}

// LedgerConfig tunes the reservation path.
type LedgerConfig struct {
	// LockTTL bounds how long a quota lock survives a crashed holder.
	LockTTL time.Duration
	// AcquireRetries is the number of additional attempts made when a
	// lock is busy before giving up with ErrBusy.
	AcquireRetries int
	// RetryDelay is the pause between acquire attempts.
	RetryDelay time.Duration
	// CartTTL is how long a granted reservation blocks capacity before
	// it expires.
	CartTTL time.Duration
}

// Ledger coordinates reservations against quota capacity.  Bookings of
// a quota are serialized through the external lock backend; when the
// backend is unreachable a quota switches into degraded mode, where a
// process-local mutex serializes bookings and capacity is counted from
// the persisted membership sets.  Degraded mode is sticky per quota
// until Reconcile is called, so the ledger never flaps between
// counting methods while the backend recovers.
type Ledger struct {
	store       Store
	backend     LockBackend
	eligibility Eligibility
	cfg         LedgerConfig

	fallback *fallbackLocks
	mu       sync.Mutex
	degraded map[string]bool
}

// NewLedger returns a Ledger.  eligibility may be nil.
func NewLedger(store Store, backend LockBackend, eligibility Eligibility, cfg LedgerConfig) *Ledger {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	if cfg.CartTTL <= 0 {
		cfg.CartTTL = 30 * time.Minute
	}
	return &Ledger{
		store:       store,
		backend:     backend,
		eligibility: eligibility,
		cfg:         cfg,
		fallback:    newFallbackLocks(),
		degraded:    make(map[string]bool),
	}
}

func (l *Ledger) isDegraded(quotaIdentity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded[quotaIdentity]
}

// enterDegraded switches one quota into degraded mode, rebuilding its
// membership sets from the authoritative tables first so the fallback
// counts start correct.
func (l *Ledger) enterDegraded(ctx context.Context, q *model.Quota, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.degraded[q.Identity] {
		return nil
	}
	if err := l.store.RebuildQuotaCaches(ctx, q, now); err != nil {
		return err
	}
	l.degraded[q.Identity] = true
	return nil
}

// release undoes a single acquired lock.
type release func()

// acquire takes the lock of one quota, switching it into degraded mode
// when the backend is unreachable.  Busy locks are retried a bounded
// number of times; backend outages are not retried at all.
func (l *Ledger) acquire(ctx context.Context, q *model.Quota, now time.Time) (release, error) {
	if l.isDegraded(q.Identity) {
		m := l.fallback.get(q.Identity)
		m.Lock()
		return m.Unlock, nil
	}
	attempts := l.cfg.AcquireRetries + 1
	for i := 0; i < attempts; i++ {
		token, err := l.backend.Acquire(ctx, q.Identity, l.cfg.LockTTL)
		if err == nil {
			return func() {
				_ = l.backend.Release(context.Background(), q.Identity, token)
			}, nil
		}
		if errors.Is(err, ErrBackendUnavailable) {
			if err := l.enterDegraded(ctx, q, now); err != nil {
				return nil, err
			}
			m := l.fallback.get(q.Identity)
			m.Lock()
			return m.Unlock, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}
		if i+1 < attempts {
			select {
			case <-time.After(l.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, ErrBusy
}

// usage counts a quota's consumed capacity using the method matching
// its current mode.
func (l *Ledger) usage(ctx context.Context, q *model.Quota, now time.Time) (int64, error) {
	if l.isDegraded(q.Identity) {
		return l.store.FallbackUsage(ctx, q.Identity, now)
	}
	return l.store.QuotaUsage(ctx, q, now)
}

// Reserve books count units of an item (optionally narrowed to a
// variation) into the cart, one position per unit.  All quotas
// covering the unit are locked in identity order, headroom is checked
// fresh from the store under the locks, and only then are the
// positions persisted.  Either every unit is granted or none is.
//
// The returned positions expire after CartTTL.  An expired position
// stops counting against capacity immediately; the periodic sweep only
// removes the leftover rows.
func (l *Ledger) Reserve(ctx context.Context, itemIdentity string, variationIdentity *string, count int) ([]model.CartPosition, error) {
	if count <= 0 {
		return nil, nil
	}
	now := time.Now()

	item, err := l.store.ItemForSale(ctx, itemIdentity)
	if err != nil {
		return nil, err
	}
	var variation *model.ItemVariation
	if variationIdentity != nil {
		variation, err = l.store.Variation(ctx, *variationIdentity)
		if err != nil {
			return nil, err
		}
		if variation.ItemIdentity != itemIdentity || !variation.Active {
			return nil, ErrNotEligible
		}
	}
	if l.eligibility != nil {
		if err := l.eligibility.CheckReservable(ctx, item.EventIdentity, itemIdentity, variationIdentity, now); err != nil {
			return nil, err
		}
	}

	quotas, err := l.store.CoveringQuotas(ctx, item.EventIdentity, itemIdentity, variationIdentity)
	if err != nil {
		return nil, err
	}
	if len(quotas) == 0 {
		return nil, &QuotaExceededError{}
	}

	// Lock every covering quota in identity order.  A stable global
	// order is what keeps two concurrent reservations over overlapping
	// quota sets from deadlocking each other.
	releases := make([]release, 0, len(quotas))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for i := range quotas {
		rel, err := l.acquire(ctx, &quotas[i], now)
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}

	var exhausted []string
	var degradedQuotas []string
	for i := range quotas {
		q := &quotas[i]
		used, err := l.usage(ctx, q, now)
		if err != nil {
			return nil, err
		}
		if used+int64(count) > q.Size {
			exhausted = append(exhausted, q.Name)
		}
		if l.isDegraded(q.Identity) {
			degradedQuotas = append(degradedQuotas, q.Identity)
		}
	}
	if len(exhausted) > 0 {
		return nil, &QuotaExceededError{Quotas: exhausted}
	}

	price := int64(0)
	if variation != nil && variation.DefaultPriceCents != nil {
		price = *variation.DefaultPriceCents
	} else if item.DefaultPriceCents != nil {
		price = *item.DefaultPriceCents
	}

	positions := make([]model.CartPosition, count)
	for i := range positions {
		positions[i] = model.CartPosition{
			ID:                uuid.NewString(),
			EventIdentity:     item.EventIdentity,
			ItemIdentity:      itemIdentity,
			VariationIdentity: variationIdentity,
			PriceCents:        price,
			Datetime:          now,
			Expires:           now.Add(l.cfg.CartTTL),
		}
	}
	if err := l.store.CreateCartPositions(ctx, positions, degradedQuotas, len(degradedQuotas) > 0); err != nil {
		return nil, err
	}
	return positions, nil
}

// Convert turns a cart position into a pending order that expires
// after orderTerm.  The unit already consumes capacity, so no headroom
// is re-checked and no quota lock is taken; conversion can never fail
// for capacity reasons.  Converting an expired position fails with
// ErrReservationExpired since its unit may already have been resold.
func (l *Ledger) Convert(ctx context.Context, positionID string, orderTerm time.Duration) (*model.Order, error) {
	pos, err := l.store.CartPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if pos.ExpiredAt(now) {
		return nil, ErrReservationExpired
	}
	return l.store.ConvertCartPosition(ctx, positionID, now.Add(orderTerm))
}

// Cancel releases a cart position before its expiry, freeing its unit
// immediately.
func (l *Ledger) Cancel(ctx context.Context, positionID string) error {
	return l.store.DeleteCartPosition(ctx, positionID)
}

// ReapExpired removes up to limit overdue cart positions and returns
// how many were removed.  Meant to be called periodically; racing
// with conversions is fine because conversion deletes the position in
// the same transaction that creates the order.
func (l *Ledger) ReapExpired(ctx context.Context, limit int) (int, error) {
	expired, err := l.store.ExpiredCartPositions(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	ids := make([]string, len(expired))
	for i := range expired {
		ids[i] = expired[i].ID
	}
	if err := l.store.ReapCartPositions(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Availability reports a quota's used and free capacity.  The numbers
// are computed without taking the quota lock, so they are a display
// snapshot, not a promise that a following Reserve will succeed.
func (l *Ledger) Availability(ctx context.Context, q *model.Quota) (used, free int64, err error) {
	used, err = l.usage(ctx, q, time.Now())
	if err != nil {
		return 0, 0, err
	}
	free = q.Size - used
	if free < 0 {
		free = 0
	}
	return used, free, nil
}

// Reconcile moves every degraded quota back to the primary path: the
// membership sets are dropped and the authoritative scope queries take
// over again.  Call it once the lock backend is known to be healthy.
func (l *Ledger) Reconcile(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for identity := range l.degraded {
		if err := l.store.ClearQuotaCaches(ctx, identity); err != nil {
			return err
		}
		delete(l.degraded, identity)
	}
	return nil
}

// DegradedQuotas returns the identities of quotas currently in
// degraded mode, for operational visibility.
func (l *Ledger) DegradedQuotas() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.degraded))
	for identity := range l.degraded {
		out = append(out, identity)
	}
	return out
}

// LockStats reports the number of quota locks currently held in the
// backend.  Display only.
func (l *Ledger) LockStats(ctx context.Context) (int64, error) {
	return l.backend.Count(ctx)
}
