package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// fakeBackend is an in-memory LockBackend with real mutual exclusion
// and a switchable outage.
type fakeBackend struct {
	mu          sync.Mutex
	held        map[string]string
	unavailable bool
	acquires    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{held: make(map[string]string)}
}

func (b *fakeBackend) setUnavailable(v bool) {
	b.mu.Lock()
	b.unavailable = v
	b.mu.Unlock()
}

func (b *fakeBackend) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return "", ErrBackendUnavailable
	}
	b.acquires++
	if _, taken := b.held[key]; taken {
		return "", ErrBusy
	}
	token := uuid.NewString()
	b.held[key] = token
	return token, nil
}

func (b *fakeBackend) Release(ctx context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held[key] == token {
		delete(b.held, key)
	}
	return nil
}

func (b *fakeBackend) Count(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailable {
		return 0, ErrBackendUnavailable
	}
	return int64(len(b.held)), nil
}

// fakeStore keeps the durable state in maps and implements the same
// counting rules as the SQL store.
type fakeStore struct {
	mu sync.Mutex

	item       model.Item
	variations map[string]model.ItemVariation
	quotas     []model.Quota

	carts      map[string]model.CartPosition
	orders     map[string]*model.Order
	positions  []model.OrderPosition
	lockCache  map[string]map[string]bool
	orderCache map[string]map[string]bool

	rebuilds int
}

func newFakeStore(item model.Item, quotas ...model.Quota) *fakeStore {
	return &fakeStore{
		item:       item,
		variations: make(map[string]model.ItemVariation),
		quotas:     quotas,
		carts:      make(map[string]model.CartPosition),
		orders:     make(map[string]*model.Order),
		lockCache:  make(map[string]map[string]bool),
		orderCache: make(map[string]map[string]bool),
	}
}

var errFakeNotFound = errors.New("fake: not found")

func (s *fakeStore) ItemForSale(ctx context.Context, itemIdentity string) (*model.Item, error) {
	if itemIdentity != s.item.Identity || !s.item.Active || s.item.Deleted {
		return nil, errFakeNotFound
	}
	it := s.item
	return &it, nil
}

func (s *fakeStore) Variation(ctx context.Context, variationIdentity string) (*model.ItemVariation, error) {
	v, ok := s.variations[variationIdentity]
	if !ok {
		return nil, errFakeNotFound
	}
	return &v, nil
}

func (s *fakeStore) CoveringQuotas(ctx context.Context, eventIdentity, itemIdentity string, variationIdentity *string) ([]model.Quota, error) {
	var out []model.Quota
	for i := range s.quotas {
		if s.quotas[i].Covers(itemIdentity, variationIdentity) {
			out = append(out, s.quotas[i])
		}
	}
	return out, nil
}

func (s *fakeStore) QuotaUsage(ctx context.Context, q *model.Quota, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var used int64
	for _, p := range s.positions {
		order := s.orders[p.OrderIdentity]
		if order != nil && order.Status.ConsumesQuota() && q.Covers(p.ItemIdentity, p.VariationIdentity) {
			used++
		}
	}
	for _, c := range s.carts {
		if !c.ExpiredAt(now) && q.Covers(c.ItemIdentity, c.VariationIdentity) {
			used++
		}
	}
	return used, nil
}

func (s *fakeStore) FallbackUsage(ctx context.Context, quotaIdentity string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := int64(len(s.orderCache[quotaIdentity]))
	for id := range s.lockCache[quotaIdentity] {
		if c, ok := s.carts[id]; ok && !c.ExpiredAt(now) {
			used++
		}
	}
	return used, nil
}

func (s *fakeStore) RebuildQuotaCaches(ctx context.Context, q *model.Quota, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
	locks := make(map[string]bool)
	for id, c := range s.carts {
		if !c.ExpiredAt(now) && q.Covers(c.ItemIdentity, c.VariationIdentity) {
			locks[id] = true
		}
	}
	orders := make(map[string]bool)
	for _, p := range s.positions {
		order := s.orders[p.OrderIdentity]
		if order != nil && order.Status.ConsumesQuota() && q.Covers(p.ItemIdentity, p.VariationIdentity) {
			orders[p.ID] = true
		}
	}
	s.lockCache[q.Identity] = locks
	s.orderCache[q.Identity] = orders
	return nil
}

func (s *fakeStore) ClearQuotaCaches(ctx context.Context, quotaIdentity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lockCache, quotaIdentity)
	delete(s.orderCache, quotaIdentity)
	return nil
}

func (s *fakeStore) CreateCartPositions(ctx context.Context, positions []model.CartPosition, quotaIdentities []string, recordFallback bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.carts[p.ID] = p
		if recordFallback {
			for _, q := range quotaIdentities {
				if s.lockCache[q] == nil {
					s.lockCache[q] = make(map[string]bool)
				}
				s.lockCache[q][p.ID] = true
			}
		}
	}
	return nil
}

func (s *fakeStore) CartPosition(ctx context.Context, id string) (*model.CartPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return &c, nil
}

func (s *fakeStore) DeleteCartPosition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[id]; !ok {
		return errFakeNotFound
	}
	delete(s.carts, id)
	for _, set := range s.lockCache {
		delete(set, id)
	}
	return nil
}

func (s *fakeStore) ConvertCartPosition(ctx context.Context, positionID string, expires time.Time) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[positionID]
	if !ok {
		return nil, errFakeNotFound
	}
	now := time.Now()
	order := &model.Order{
		Versioned:     model.NewVersioned(now),
		EventIdentity: c.EventIdentity,
		Status:        model.OrderStatusPending,
		Datetime:      now,
		Expires:       expires,
		TotalCents:    c.PriceCents,
	}
	position := model.OrderPosition{
		ID:                uuid.NewString(),
		OrderIdentity:     order.Identity,
		ItemIdentity:      c.ItemIdentity,
		VariationIdentity: c.VariationIdentity,
		PriceCents:        c.PriceCents,
		CreatedAt:         now,
	}
	s.orders[order.Identity] = order
	s.positions = append(s.positions, position)
	for q, set := range s.lockCache {
		if set[positionID] {
			delete(set, positionID)
			if s.orderCache[q] == nil {
				s.orderCache[q] = make(map[string]bool)
			}
			s.orderCache[q][position.ID] = true
		}
	}
	delete(s.carts, positionID)
	return order, nil
}

func (s *fakeStore) ExpiredCartPositions(ctx context.Context, now time.Time, limit int) ([]model.CartPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CartPosition
	for _, c := range s.carts {
		if c.ExpiredAt(now) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) ReapCartPositions(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.carts, id)
		for _, set := range s.lockCache {
			delete(set, id)
		}
	}
	return nil
}

func (s *fakeStore) expireCart(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.carts[id]
	c.Expires = time.Now().Add(-time.Minute)
	s.carts[id] = c
}

func testItem() model.Item {
	return model.Item{
		Versioned:     model.Versioned{ID: "ticket", Identity: "ticket", VersionStart: time.Now()},
		EventIdentity: "concert",
		Name:          "Ticket",
		Active:        true,
	}
}

func testQuota(identity, name string, size int64) model.Quota {
	return model.Quota{
		Versioned:      model.Versioned{ID: identity, Identity: identity, VersionStart: time.Now()},
		EventIdentity:  "concert",
		Name:           name,
		Size:           size,
		ItemIdentities: []string{"ticket"},
	}
}

func testLedger(store Store, backend LockBackend) *Ledger {
	return NewLedger(store, backend, nil, LedgerConfig{
		LockTTL:        time.Second,
		AcquireRetries: 20,
		RetryDelay:     time.Millisecond,
		CartTTL:        time.Minute,
	})
}

func TestReserveGrantsUpToCapacity(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 3))
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	positions, err := ledger.Reserve(ctx, "ticket", nil, 2)
	require.NoError(t, err)
	require.Len(t, positions, 2, "one cart position per unit")

	_, err = ledger.Reserve(ctx, "ticket", nil, 2)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded, "request past capacity is all-or-nothing")
	assert.Equal(t, []string{"Total"}, exceeded.Quotas)
	assert.Len(t, store.carts, 2, "no partial grant leaked")

	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err, "remaining headroom is still grantable")
}

func TestReserveExactlyOneWinnerUnderContention(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Last seat", 1))
	ledger := testLedger(store, newFakeBackend())

	const workers = 8
	var wg sync.WaitGroup
	granted := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(context.Background(), "ticket", nil, 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 1, count, "the last unit must be granted exactly once")
	assert.Len(t, store.carts, 1)
}

func TestReserveAfterReap(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 1))
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	positions, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)

	store.expireCart(positions[0].ID)
	reaped, err := ledger.ReapExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err, "the reaped unit is grantable again")
}

func TestExpiryFreesCapacityBeforeReap(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 1))
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	positions, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)

	// The expired position's row is still in the store, yet the unit is
	// already free: usage counting excludes expired carts on its own.
	store.expireCart(positions[0].ID)
	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err, "expiry alone frees the unit, no sweep needed")
	assert.Len(t, store.carts, 2, "the expired row lingers until reaped")
}

func TestConvertNeverChecksCapacity(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 1))
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	positions, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)

	// Quota is now completely consumed, yet conversion must succeed:
	// the unit was counted when it entered the cart.
	order, err := ledger.Convert(ctx, positions[0].ID, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Empty(t, store.carts, "conversion consumes the cart position")

	used, free, err := ledger.Availability(ctx, &store.quotas[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), used, "the order keeps consuming the quota")
	assert.Equal(t, int64(0), free)
}

func TestConvertExpiredReservation(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 5))
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	positions, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)

	store.expireCart(positions[0].ID)
	_, err = ledger.Convert(ctx, positions[0].ID, 24*time.Hour)
	assert.ErrorIs(t, err, ErrReservationExpired)
}

func TestReserveNamesEveryExhaustedQuota(t *testing.T) {
	small := testQuota("q-small", "VIP pool", 1)
	big := testQuota("q-big", "Venue", 100)
	store := newFakeStore(testItem(), big, small)
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, []string{"VIP pool"}, exceeded.Quotas,
		"only the exhausted quota is reported, not the roomy one")
}

func TestReserveWithoutCoveringQuota(t *testing.T) {
	store := newFakeStore(testItem()) // no quotas at all
	ledger := testLedger(store, newFakeBackend())

	_, err := ledger.Reserve(context.Background(), "ticket", nil, 1)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Empty(t, exceeded.Quotas)
}

func TestReserveBusyLock(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 5))
	backend := newFakeBackend()
	// Someone else holds the quota lock and never lets go.
	_, err := backend.Acquire(context.Background(), "q1", time.Minute)
	require.NoError(t, err)

	ledger := NewLedger(store, backend, nil, LedgerConfig{
		LockTTL:        time.Second,
		AcquireRetries: 2,
		RetryDelay:     time.Millisecond,
		CartTTL:        time.Minute,
	})
	_, err = ledger.Reserve(context.Background(), "ticket", nil, 1)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, store.carts)
}

type denyAll struct{}

func (denyAll) CheckReservable(ctx context.Context, eventIdentity, itemIdentity string, variationIdentity *string, now time.Time) error {
	return ErrNotEligible
}

func TestReserveEligibilityRunsFirst(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 5))
	backend := newFakeBackend()
	ledger := NewLedger(store, backend, denyAll{}, LedgerConfig{CartTTL: time.Minute})

	_, err := ledger.Reserve(context.Background(), "ticket", nil, 1)
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Zero(t, backend.acquires, "ineligible requests never touch the locks")
}

func TestDegradedModeIsStickyUntilReconcile(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 2))
	backend := newFakeBackend()
	ledger := testLedger(store, backend)
	ctx := context.Background()

	backend.setUnavailable(true)
	_, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err, "an outage degrades the quota instead of failing the sale")
	assert.Equal(t, 1, store.rebuilds, "membership sets are rebuilt on entry")
	assert.Equal(t, []string{"q1"}, ledger.DegradedQuotas())

	// The backend recovering is not enough: counting stays on the
	// fallback path until an explicit reconcile.
	backend.setUnavailable(false)
	before := backend.acquires
	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, before, backend.acquires, "degraded quota keeps using the local lock")

	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded, "fallback counting enforces capacity too")

	require.NoError(t, ledger.Reconcile(ctx))
	assert.Empty(t, ledger.DegradedQuotas())
	assert.Empty(t, store.lockCache, "membership sets are dropped on reconcile")

	// Primary path again: backend locks are used and the durable count
	// still sees both earlier reservations.
	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	require.ErrorAs(t, err, &exceeded)
	assert.Greater(t, backend.acquires, before)
}

func TestDegradedConversionKeepsCounting(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 1))
	backend := newFakeBackend()
	ledger := testLedger(store, backend)
	ctx := context.Background()

	backend.setUnavailable(true)
	positions, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)

	_, err = ledger.Convert(ctx, positions[0].ID, 24*time.Hour)
	require.NoError(t, err)

	used, _, err := ledger.Availability(ctx, &store.quotas[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), used, "conversion moves the unit between membership sets, not out of them")
}

func TestCancelFreesTheUnit(t *testing.T) {
	store := newFakeStore(testItem(), testQuota("q1", "Total", 1))
	ledger := testLedger(store, newFakeBackend())
	ctx := context.Background()

	positions, err := ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err)
	require.NoError(t, ledger.Cancel(ctx, positions[0].ID))

	_, err = ledger.Reserve(ctx, "ticket", nil, 1)
	require.NoError(t, err, "cancelling releases capacity immediately")
}
