package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var restrictionSpec = versionedSpec{
	table:   "restrictions",
	columns: []string{"event_identity", "item_identity", "kind", "config"},
	links: []linkSpec{
		{table: "restriction_variations", ownerCol: "restriction_id", copyCols: []string{"variation_identity"}},
	},
}

// RestrictionRepo provides data access to restriction rows.  Rows only
// carry a kind and an opaque configuration document; interpreting them
// is the restriction registry's job.
type RestrictionRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewRestrictionRepo returns a new RestrictionRepo.  caches may be nil in tests.
func NewRestrictionRepo(db *sql.DB, caches *cache.Cache) *RestrictionRepo {
	return &RestrictionRepo{db: db, caches: caches}
}

func (r *RestrictionRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// Create persists a new restriction with its variation scope links and
// clears the event cache.
func (r *RestrictionRepo) Create(ctx context.Context, rs *model.Restriction) error {
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
	rs.Versioned = model.NewVersioned(time.Now())
	if _, err := tx.ExecContext(ctx, restrictionSpec.insertHead(),
		rs.ID, rs.Identity, rs.VersionStart,
		rs.EventIdentity, rs.ItemIdentity, rs.Kind, rs.Config); err != nil {
		return err
	}
	for _, v := range rs.VariationIdentities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO restriction_variations (restriction_id, variation_identity) VALUES (?, ?)`,
			rs.Identity, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, rs.EventIdentity)
	return nil
}

// Update snapshots the current version and applies the configuration
// document to the head row.
func (r *RestrictionRepo) Update(ctx context.Context, rs *model.Restriction) error {
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
	if _, err := restrictionSpec.cloneTx(ctx, tx, rs.Identity, time.Now(), false); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE restrictions SET config = ? WHERE identity = ? AND version_end IS NULL`,
		rs.Config, rs.Identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, rs.EventIdentity)
	return nil
}

// Delete removes a restriction's head by closing its version interval.
// The history stays queryable; only the current rule set shrinks.
func (r *RestrictionRepo) Delete(ctx context.Context, identity string) error {
	var eventIdentity string
	err := r.db.QueryRowContext(ctx,
		`SELECT event_identity FROM restrictions WHERE identity = ? AND version_end IS NULL`,
		identity).Scan(&eventIdentity)
	if err != nil {
		return notFoundErr(err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE restrictions SET version_end = ? WHERE identity = ? AND version_end IS NULL`,
		time.Now().UTC(), identity)
	if err != nil {
		return err
	}
	r.clearCache(ctx, eventIdentity)
	return nil
}

// ListByEvent returns the current versions of all restrictions of an
// event with their variation scopes loaded.
func (r *RestrictionRepo) ListByEvent(ctx context.Context, eventIdentity string) ([]model.Restriction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+versionCols+", "+strings.Join(restrictionSpec.columns, ", ")+
			" FROM restrictions WHERE event_identity = ? AND version_end IS NULL ORDER BY identity",
		eventIdentity)
	if err != nil {
		return nil, err
	}
	var out []model.Restriction
	for rows.Next() {
		rs, err := scanRestriction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *rs)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		variations, err := r.variationsOf(ctx, out[i].Identity)
		if err != nil {
			return nil, err
		}
		out[i].VariationIdentities = variations
	}
	return out, nil
}

func (r *RestrictionRepo) variationsOf(ctx context.Context, restrictionIdentity string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT variation_identity FROM restriction_variations WHERE restriction_id = ? ORDER BY variation_identity`,
		restrictionIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanRestriction(row rowScanner) (*model.Restriction, error) {
	var v versionRow
	var rs model.Restriction
	var item sql.NullString
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end,
		&rs.EventIdentity, &item, &rs.Kind, &rs.Config); err != nil {
		return nil, notFoundErr(err)
	}
	rs.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	if item.Valid {
		s := item.String
		rs.ItemIdentity = &s
	}
	return &rs, nil
}
