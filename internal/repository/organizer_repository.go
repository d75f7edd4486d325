package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var organizerSpec = versionedSpec{
	table:   "organizers",
	columns: []string{"name", "slug"},
}

// OrganizerRepo provides data access to the organizers table.
type OrganizerRepo struct {
	db *sql.DB
}

// NewOrganizerRepo returns a new OrganizerRepo bound to the provided database.
func NewOrganizerRepo(db *sql.DB) *OrganizerRepo { return &OrganizerRepo{db: db} }

// Create persists a new organizer with an open version interval
// starting now.  The version fields on the passed model are populated.
func (r *OrganizerRepo) Create(ctx context.Context, o *model.Organizer) error {
	o.Versioned = model.NewVersioned(time.Now())
	_, err := r.db.ExecContext(ctx, organizerSpec.insertHead(),
		o.ID, o.Identity, o.VersionStart, o.Name, o.Slug)
	return err
}

// Head returns the current version of an organizer.
func (r *OrganizerRepo) Head(ctx context.Context, identity string) (*model.Organizer, error) {
	return r.scan(r.db.QueryRowContext(ctx, organizerSpec.selectHead(), identity))
}

// AsOf returns the organizer version whose interval contains ts.
func (r *OrganizerRepo) AsOf(ctx context.Context, identity string, ts time.Time) (*model.Organizer, error) {
	return r.scan(r.db.QueryRowContext(ctx, organizerSpec.selectAsOf(), identity, ts.UTC(), ts.UTC()))
}

// Clone snapshots the organizer's head into a closed interval at the
// given time and returns the refreshed head.
func (r *OrganizerRepo) Clone(ctx context.Context, identity string, at time.Time) (*model.Organizer, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := organizerSpec.cloneTx(ctx, tx, identity, at, true); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Head(ctx, identity)
}

func (r *OrganizerRepo) scan(row *sql.Row) (*model.Organizer, error) {
	var v versionRow
	var o model.Organizer
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end, &o.Name, &o.Slug); err != nil {
		return nil, notFoundErr(err)
	}
	o.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	return &o, nil
}
