package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// ReservationRepo is the durable side of the reservation ledger.  It
// answers capacity questions from the orders and cart tables, persists
// cart positions, converts them into orders, and maintains the
// quota_lock_cache and quota_order_cache membership sets used while
// the lock backend is unreachable.
type ReservationRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewReservationRepo returns a new ReservationRepo.  caches may be nil
// in tests.
func NewReservationRepo(db *sql.DB, caches *cache.Cache) *ReservationRepo {
	return &ReservationRepo{db: db, caches: caches}
}

func (r *ReservationRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// ItemForSale returns the head version of an item if it can currently
// be sold.  Inactive and soft-deleted items are reported as
// ErrNotFound so callers cannot distinguish them from missing ones.
func (r *ReservationRepo) ItemForSale(ctx context.Context, itemIdentity string) (*model.Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx, itemSpec.selectHead(), itemIdentity))
	if err != nil {
		return nil, err
	}
	if !it.Active || it.Deleted {
		return nil, ErrNotFound
	}
	return it, nil
}

// Variation returns the head version of a variation without its values.
func (r *ReservationRepo) Variation(ctx context.Context, variationIdentity string) (*model.ItemVariation, error) {
	return scanVariation(r.db.QueryRowContext(ctx, variationSpec.selectHead(), variationIdentity))
}

// CoveringQuotas returns the head quotas of an event whose scope
// includes the given item and optional variation, ordered by identity
// so lock acquisition order is stable across processes.
func (r *ReservationRepo) CoveringQuotas(ctx context.Context, eventIdentity, itemIdentity string, variationIdentity *string) ([]model.Quota, error) {
	all, err := NewQuotaRepo(r.db, r.caches).ListByEvent(ctx, eventIdentity)
	if err != nil {
		return nil, err
	}
	var covering []model.Quota
	for i := range all {
		if all[i].Covers(itemIdentity, variationIdentity) {
			covering = append(covering, all[i])
		}
	}
	for i := 1; i < len(covering); i++ {
		for j := i; j > 0 && covering[j].Identity < covering[j-1].Identity; j-- {
			covering[j], covering[j-1] = covering[j-1], covering[j]
		}
	}
	return covering, nil
}

// scopeClause builds the WHERE fragment matching a quota's scope
// against an item/variation column pair.  Variation-scoped quotas
// match on the variation column; item-scoped ones on the item column.
func scopeClause(q *model.Quota, itemCol, variationCol string) (string, []interface{}) {
	if len(q.VariationIdentities) > 0 {
		return inClause(variationCol, q.VariationIdentities)
	}
	return inClause(itemCol, q.ItemIdentities)
}

func inClause(col string, values []string) (string, []interface{}) {
	if len(values) == 0 {
		// A quota with an empty scope covers nothing.
		return "1 = 0", nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return col + " IN (?" + strings.Repeat(", ?", len(values)-1) + ")", args
}

// QuotaUsage counts the units currently consuming capacity of a quota
// from the durable tables: order positions of pending or paid head
// orders, plus unexpired cart positions.  This is the authoritative
// count; the membership caches only approximate it during lock-backend
// outages.
func (r *ReservationRepo) QuotaUsage(ctx context.Context, q *model.Quota, now time.Time) (int64, error) {
	orderScope, orderArgs := scopeClause(q, "op.item_identity", "op.variation_identity")
	var ordered int64
	orderQuery := `SELECT COUNT(*) FROM order_positions op
	               JOIN orders o ON o.identity = op.order_identity AND o.version_end IS NULL
	               WHERE o.status IN ('pending', 'paid') AND ` + orderScope
	if err := r.db.QueryRowContext(ctx, orderQuery, orderArgs...).Scan(&ordered); err != nil {
		return 0, err
	}

	cartScope, cartArgs := scopeClause(q, "item_identity", "variation_identity")
	var carted int64
	cartQuery := `SELECT COUNT(*) FROM cart_positions WHERE expires > ? AND ` + cartScope
	args := append([]interface{}{now.UTC()}, cartArgs...)
	if err := r.db.QueryRowContext(ctx, cartQuery, args...).Scan(&carted); err != nil {
		return 0, err
	}
	return ordered + carted, nil
}

// FallbackUsage counts capacity consumption from the persisted
// membership sets instead of the scope queries.  Lock-cache entries
// only count while their cart position is still alive and unexpired.
func (r *ReservationRepo) FallbackUsage(ctx context.Context, quotaIdentity string, now time.Time) (int64, error) {
	var ordered int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quota_order_cache WHERE quota_identity = ?`,
		quotaIdentity).Scan(&ordered); err != nil {
		return 0, err
	}
	var carted int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quota_lock_cache lc
		 JOIN cart_positions cp ON cp.id = lc.position_id AND cp.expires > ?
		 WHERE lc.quota_identity = ?`,
		now.UTC(), quotaIdentity).Scan(&carted); err != nil {
		return 0, err
	}
	return ordered + carted, nil
}

// RebuildQuotaCaches repopulates both membership sets of a quota from
// the durable tables.  Called once when a quota enters degraded mode so
// the fallback counts start from the authoritative state.
func (r *ReservationRepo) RebuildQuotaCaches(ctx context.Context, q *model.Quota, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_lock_cache WHERE quota_identity = ?`, q.Identity); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_order_cache WHERE quota_identity = ?`, q.Identity); err != nil {
		return err
	}

	cartScope, cartArgs := scopeClause(q, "item_identity", "variation_identity")
	args := append([]interface{}{q.Identity, now.UTC()}, cartArgs...)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_lock_cache (quota_identity, position_id)
		 SELECT ?, id FROM cart_positions WHERE expires > ? AND `+cartScope, args...); err != nil {
		return err
	}

	orderScope, orderArgs := scopeClause(q, "op.item_identity", "op.variation_identity")
	args = append([]interface{}{q.Identity}, orderArgs...)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_order_cache (quota_identity, position_id)
		 SELECT ?, op.id FROM order_positions op
		 JOIN orders o ON o.identity = op.order_identity AND o.version_end IS NULL
		 WHERE o.status IN ('pending', 'paid') AND `+orderScope, args...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ClearQuotaCaches drops both membership sets of a quota.  Called when
// the quota leaves degraded mode; the authoritative scope queries take
// over again afterwards.
func (r *ReservationRepo) ClearQuotaCaches(ctx context.Context, quotaIdentity string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_lock_cache WHERE quota_identity = ?`, quotaIdentity); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_order_cache WHERE quota_identity = ?`, quotaIdentity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// CreateCartPositions persists one row per reserved unit.  When
// recordFallback is true each position is also registered in the
// lock-membership set of every covering quota so degraded-mode counts
// see it.
func (r *ReservationRepo) CreateCartPositions(ctx context.Context, positions []model.CartPosition, quotaIdentities []string, recordFallback bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for i := range positions {
		p := &positions[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cart_positions (id, event_identity, item_identity, variation_identity, price_cents, datetime, expires)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.EventIdentity, p.ItemIdentity, p.VariationIdentity,
			p.PriceCents, p.Datetime.UTC(), p.Expires.UTC()); err != nil {
			return err
		}
		if recordFallback {
			for _, q := range quotaIdentities {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO quota_lock_cache (quota_identity, position_id) VALUES (?, ?)`,
					q, p.ID); err != nil {
					return err
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// CartPosition returns one cart position by ID.
func (r *ReservationRepo) CartPosition(ctx context.Context, id string) (*model.CartPosition, error) {
	return scanCartPosition(r.db.QueryRowContext(ctx,
		`SELECT id, event_identity, item_identity, variation_identity, price_cents, datetime, expires
		 FROM cart_positions WHERE id = ?`, id))
}

// DeleteCartPosition releases one reservation and drops its fallback
// membership entries.
func (r *ReservationRepo) DeleteCartPosition(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_lock_cache WHERE position_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM question_answers WHERE cart_position_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cart_positions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ConvertCartPosition turns a cart position into a pending order with
// one order position, freezing the reserved price.  The position's
// lock-membership entries are moved into the order-membership set in
// the same transaction so degraded-mode counts never dip.  No capacity
// check happens here: the unit was already counted while in the cart.
func (r *ReservationRepo) ConvertCartPosition(ctx context.Context, positionID string, expires time.Time) (*model.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	pos, err := scanCartPosition(tx.QueryRowContext(ctx,
		`SELECT id, event_identity, item_identity, variation_identity, price_cents, datetime, expires
		 FROM cart_positions WHERE id = ? FOR UPDATE`, positionID))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &model.Order{
		Versioned:     model.NewVersioned(now),
		EventIdentity: pos.EventIdentity,
		Status:        model.OrderStatusPending,
		Datetime:      now.UTC(),
		Expires:       expires.UTC(),
		TotalCents:    pos.PriceCents,
	}
	if _, err := tx.ExecContext(ctx, orderSpec.insertHead(),
		order.ID, order.Identity, order.VersionStart,
		order.EventIdentity, order.Status, order.Datetime, order.Expires,
		nil, nil, order.TotalCents); err != nil {
		return nil, err
	}
	orderPositionID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_positions (id, order_identity, item_identity, variation_identity, price_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		orderPositionID, order.Identity, pos.ItemIdentity, pos.VariationIdentity,
		pos.PriceCents, now.UTC()); err != nil {
		return nil, err
	}

	// Answers ride along: re-home them from the cart position onto the
	// order position they now describe.
	if _, err := tx.ExecContext(ctx,
		`UPDATE question_answers SET order_position_id = ?, cart_position_id = NULL
		 WHERE cart_position_id = ?`,
		orderPositionID, positionID); err != nil {
		return nil, err
	}

	// The order-membership set is keyed by order position ID so that
	// later cancellations and rebuilds agree on the key.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_order_cache (quota_identity, position_id)
		 SELECT quota_identity, ? FROM quota_lock_cache WHERE position_id = ?`,
		orderPositionID, positionID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_lock_cache WHERE position_id = ?`, positionID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_positions WHERE id = ?`, positionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return order, nil
}

// ExpiredCartPositions lists reservations whose expiry has passed, up
// to limit rows.  The rows no longer count against quota capacity;
// ReapCartPositions merely removes the leftovers.
func (r *ReservationRepo) ExpiredCartPositions(ctx context.Context, now time.Time, limit int) ([]model.CartPosition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_identity, item_identity, variation_identity, price_cents, datetime, expires
		 FROM cart_positions WHERE expires <= ? ORDER BY expires LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CartPosition
	for rows.Next() {
		p, err := scanCartPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ReapCartPositions removes expired reservations and their fallback
// membership entries.  Rows already gone are skipped silently, since
// the sweep may race a conversion or an explicit release.
func (r *ReservationRepo) ReapCartPositions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	clause, args := inClause("position_id", ids)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_lock_cache WHERE `+clause, args...); err != nil {
		return err
	}
	clause, args = inClause("cart_position_id", ids)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM question_answers WHERE `+clause, args...); err != nil {
		return err
	}
	clause, args = inClause("id", ids)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart_positions WHERE `+clause, args...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func scanCartPosition(row rowScanner) (*model.CartPosition, error) {
	var p model.CartPosition
	var variation sql.NullString
	if err := row.Scan(&p.ID, &p.EventIdentity, &p.ItemIdentity, &variation,
		&p.PriceCents, &p.Datetime, &p.Expires); err != nil {
		return nil, notFoundErr(err)
	}
	if variation.Valid {
		s := variation.String
		p.VariationIdentity = &s
	}
	return &p, nil
}
