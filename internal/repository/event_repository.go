package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var eventSpec = versionedSpec{
	table: "events",
	columns: []string{
		"organizer_identity", "name", "slug", "currency",
		"date_from", "date_to", "presale_start", "presale_end",
		"payment_term_days",
	},
}

// EventRepo provides data access to the events table.  Events are the
// root of the cache-invalidation scope, so every mutation through this
// repository clears the event's own cache as its last side effect.
type EventRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewEventRepo returns a new EventRepo.  caches may be nil in tests.
func NewEventRepo(db *sql.DB, caches *cache.Cache) *EventRepo {
	return &EventRepo{db: db, caches: caches}
}

func (r *EventRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// Create persists a new event with an open version interval.
func (r *EventRepo) Create(ctx context.Context, ev *model.Event) error {
	ev.Versioned = model.NewVersioned(time.Now())
	_, err := r.db.ExecContext(ctx, eventSpec.insertHead(),
		ev.ID, ev.Identity, ev.VersionStart,
		ev.OrganizerIdentity, ev.Name, ev.Slug, ev.Currency,
		ev.DateFrom.UTC(), nullTime(ev.DateTo), nullTime(ev.PresaleStart), nullTime(ev.PresaleEnd),
		ev.PaymentTermDays)
	return err
}

// Head returns the current version of an event.
func (r *EventRepo) Head(ctx context.Context, identity string) (*model.Event, error) {
	return r.scan(r.db.QueryRowContext(ctx, eventSpec.selectHead(), identity))
}

// AsOf returns the event version whose interval contains ts.
func (r *EventRepo) AsOf(ctx context.Context, identity string, ts time.Time) (*model.Event, error) {
	return r.scan(r.db.QueryRowContext(ctx, eventSpec.selectAsOf(), identity, ts.UTC(), ts.UTC()))
}

// Clone snapshots the event's head at the given time and returns the
// refreshed head.
func (r *EventRepo) Clone(ctx context.Context, identity string, at time.Time) (*model.Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := eventSpec.cloneTx(ctx, tx, identity, at, true); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Head(ctx, identity)
}

// Update snapshots the current version and applies the passed field
// values to the head row.  The event's cache is cleared afterwards.
func (r *EventRepo) Update(ctx context.Context, ev *model.Event) error {
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
	if _, err := eventSpec.cloneTx(ctx, tx, ev.Identity, time.Now(), true); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE events SET organizer_identity = ?, name = ?, slug = ?, currency = ?,
		        date_from = ?, date_to = ?, presale_start = ?, presale_end = ?, payment_term_days = ?
		 WHERE identity = ? AND version_end IS NULL`,
		ev.OrganizerIdentity, ev.Name, ev.Slug, ev.Currency,
		ev.DateFrom.UTC(), nullTime(ev.DateTo), nullTime(ev.PresaleStart), nullTime(ev.PresaleEnd),
		ev.PaymentTermDays, ev.Identity)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, ev.Identity)
	return nil
}

func (r *EventRepo) scan(row *sql.Row) (*model.Event, error) {
	var v versionRow
	var ev model.Event
	var dateTo, presaleStart, presaleEnd sql.NullTime
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end,
		&ev.OrganizerIdentity, &ev.Name, &ev.Slug, &ev.Currency,
		&ev.DateFrom, &dateTo, &presaleStart, &presaleEnd,
		&ev.PaymentTermDays); err != nil {
		return nil, notFoundErr(err)
	}
	ev.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	ev.DateTo = timePtr(dateTo)
	ev.PresaleStart = timePtr(presaleStart)
	ev.PresaleEnd = timePtr(presaleEnd)
	return &ev, nil
}

// nullTime converts an optional time for binding.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// timePtr converts a scanned nullable time back to a pointer.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
