package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var orderSpec = versionedSpec{
	table: "orders",
	columns: []string{
		"event_identity", "status", "datetime", "expires",
		"payment_date", "payment_info", "total_cents",
	},
}

// OrderRepo provides data access to orders and order positions.
// Orders are versioned like catalog entities; every status transition
// snapshots the previous state first, so the full payment history of
// an order stays queryable.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// Head returns the current version of an order.
func (r *OrderRepo) Head(ctx context.Context, identity string) (*model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, orderSpec.selectHead(), identity))
}

// AsOf returns the order version whose interval contains ts.
func (r *OrderRepo) AsOf(ctx context.Context, identity string, ts time.Time) (*model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, orderSpec.selectAsOf(), identity, ts.UTC(), ts.UTC()))
}

// Positions returns the lines of an order.  Positions reference the
// order by identity, so they resolve against every version of it.
func (r *OrderRepo) Positions(ctx context.Context, orderIdentity string) ([]model.OrderPosition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_identity, item_identity, variation_identity, price_cents, created_at
		 FROM order_positions WHERE order_identity = ? ORDER BY created_at, id`,
		orderIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OrderPosition
	for rows.Next() {
		var p model.OrderPosition
		var variation sql.NullString
		if err := rows.Scan(&p.ID, &p.OrderIdentity, &p.ItemIdentity, &variation,
			&p.PriceCents, &p.CreatedAt); err != nil {
			return nil, err
		}
		if variation.Valid {
			s := variation.String
			p.VariationIdentity = &s
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPaid transitions a pending order to paid, recording the payment
// date and optional payment info.  The pending state is snapshotted
// first.  Paying anything but a pending order is ErrInvalidState.
func (r *OrderRepo) MarkPaid(ctx context.Context, identity string, paymentInfo *string) error {
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
	var status model.OrderStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE identity = ? AND version_end IS NULL FOR UPDATE`,
		identity).Scan(&status)
	if err != nil {
		return notFoundErr(err)
	}
	if status != model.OrderStatusPending {
		return fmt.Errorf("%w: only pending orders can be paid, order is %s", ErrInvalidState, status)
	}
	now := time.Now()
	if _, err := orderSpec.cloneTx(ctx, tx, identity, now, true); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, payment_date = ?, payment_info = ? WHERE identity = ? AND version_end IS NULL`,
		model.OrderStatusPaid, now.UTC(), paymentInfo, identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Cancel transitions a pending order to cancelled and releases its
// units: the order's positions are dropped from the order-membership
// set so degraded-mode counts see the freed capacity.
func (r *OrderRepo) Cancel(ctx context.Context, identity string) error {
	return r.release(ctx, identity, model.OrderStatusCancelled)
}

// ExpireOverdue cancels pending orders whose expiry has passed,
// transitioning them to expired one by one.  Returns the identities of
// the orders it expired.
func (r *OrderRepo) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT identity FROM orders WHERE status = ? AND expires <= ? AND version_end IS NULL`,
		model.OrderStatusPending, now.UTC())
	if err != nil {
		return nil, err
	}
	var identities []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		identities = append(identities, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	var expired []string
	for _, id := range identities {
		if err := r.release(ctx, id, model.OrderStatusExpired); err != nil {
			// A paid-in-the-meantime order is no longer overdue.
			if err == ErrInvalidState || err == ErrNotFound {
				continue
			}
			return expired, err
		}
		expired = append(expired, id)
	}
	return expired, nil
}

func (r *OrderRepo) release(ctx context.Context, identity string, to model.OrderStatus) error {
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
	var status model.OrderStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE identity = ? AND version_end IS NULL FOR UPDATE`,
		identity).Scan(&status)
	if err != nil {
		return notFoundErr(err)
	}
	if status != model.OrderStatusPending {
		return ErrInvalidState
	}
	now := time.Now()
	if _, err := orderSpec.cloneTx(ctx, tx, identity, now, true); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE identity = ? AND version_end IS NULL`,
		to, identity); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_order_cache WHERE position_id IN
		 (SELECT id FROM order_positions WHERE order_identity = ?)`,
		identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var v versionRow
	var o model.Order
	var paymentDate sql.NullTime
	var paymentInfo sql.NullString
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end,
		&o.EventIdentity, &o.Status, &o.Datetime, &o.Expires,
		&paymentDate, &paymentInfo, &o.TotalCents); err != nil {
		return nil, notFoundErr(err)
	}
	o.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	o.PaymentDate = timePtr(paymentDate)
	if paymentInfo.Valid {
		s := paymentInfo.String
		o.PaymentInfo = &s
	}
	return &o, nil
}
