package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var propertySpec = versionedSpec{
	table:   "properties",
	columns: []string{"event_identity", "name"},
}

var propertyValueSpec = versionedSpec{
	table:   "property_values",
	columns: []string{"property_identity", "value", "position"},
}

// PropertyRepo provides data access to properties and their values.
// Values are ordered by position within their property; the variation
// engine depends on this ordering for deterministic enumeration.
type PropertyRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewPropertyRepo returns a new PropertyRepo.  caches may be nil in tests.
func NewPropertyRepo(db *sql.DB, caches *cache.Cache) *PropertyRepo {
	return &PropertyRepo{db: db, caches: caches}
}

func (r *PropertyRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// eventOfProperty walks the back-reference from a property to its
// owning event for cache invalidation.
func (r *PropertyRepo) eventOfProperty(ctx context.Context, propertyIdentity string) (string, error) {
	var eventIdentity string
	err := r.db.QueryRowContext(ctx,
		`SELECT event_identity FROM properties WHERE identity = ? AND version_end IS NULL`,
		propertyIdentity).Scan(&eventIdentity)
	return eventIdentity, notFoundErr(err)
}

// CreateProperty persists a new property and clears the event cache.
func (r *PropertyRepo) CreateProperty(ctx context.Context, p *model.Property) error {
	p.Versioned = model.NewVersioned(time.Now())
	_, err := r.db.ExecContext(ctx, propertySpec.insertHead(),
		p.ID, p.Identity, p.VersionStart, p.EventIdentity, p.Name)
	if err != nil {
		return err
	}
	r.clearCache(ctx, p.EventIdentity)
	return nil
}

// CreateValue persists a new property value and clears the cache of
// the event owning the parent property.
func (r *PropertyRepo) CreateValue(ctx context.Context, v *model.PropertyValue) error {
	eventIdentity, err := r.eventOfProperty(ctx, v.PropertyIdentity)
	if err != nil {
		return err
	}
	v.Versioned = model.NewVersioned(time.Now())
	_, err = r.db.ExecContext(ctx, propertyValueSpec.insertHead(),
		v.ID, v.Identity, v.VersionStart, v.PropertyIdentity, v.Value, v.Position)
	if err != nil {
		return err
	}
	r.clearCache(ctx, eventIdentity)
	return nil
}

// UpdateValue snapshots the current version of a value and applies the
// passed fields to the head row.
func (r *PropertyRepo) UpdateValue(ctx context.Context, v *model.PropertyValue) error {
	eventIdentity, err := r.eventOfProperty(ctx, v.PropertyIdentity)
	if err != nil {
		return err
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
	if _, err := propertyValueSpec.cloneTx(ctx, tx, v.Identity, time.Now(), true); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE property_values SET value = ?, position = ? WHERE identity = ? AND version_end IS NULL`,
		v.Value, v.Position, v.Identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, eventIdentity)
	return nil
}

// HeadValue returns the current version of a property value.
func (r *PropertyRepo) HeadValue(ctx context.Context, identity string) (*model.PropertyValue, error) {
	row := r.db.QueryRowContext(ctx, propertyValueSpec.selectHead(), identity)
	var v versionRow
	var pv model.PropertyValue
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end, &pv.PropertyIdentity, &pv.Value, &pv.Position); err != nil {
		return nil, notFoundErr(err)
	}
	pv.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	return &pv, nil
}

// ItemsOfProperty returns the identities of all items the property is
// currently attached to.  Head items keep id == identity, so joining
// the head rows filters out link entries pinned under historical
// surrogate keys.
func (r *PropertyRepo) ItemsOfProperty(ctx context.Context, propertyIdentity string) ([]string, error) {
	const q = `SELECT ip.item_id
	           FROM item_properties ip
	           JOIN items i ON i.identity = ip.item_id AND i.version_end IS NULL
	           WHERE ip.property_identity = ?`
	rows, err := r.db.QueryContext(ctx, q, propertyIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, err
		}
		items = append(items, identity)
	}
	return items, rows.Err()
}

// HeadProperty returns the current version of a property without its values.
func (r *PropertyRepo) HeadProperty(ctx context.Context, identity string) (*model.Property, error) {
	row := r.db.QueryRowContext(ctx, propertySpec.selectHead(), identity)
	var v versionRow
	var p model.Property
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end, &p.EventIdentity, &p.Name); err != nil {
		return nil, notFoundErr(err)
	}
	p.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	return &p, nil
}

// ListByItem returns the current versions of all properties attached
// to an item, each populated with its values ordered by position.
// Properties are ordered by name (identity as tie-break) so repeated
// enumerations are stable.
func (r *PropertyRepo) ListByItem(ctx context.Context, itemIdentity string) ([]model.Property, error) {
	const q = `SELECT p.id, p.identity, p.version_start, p.version_end, p.event_identity, p.name
	           FROM item_properties ip
	           JOIN properties p ON p.identity = ip.property_identity AND p.version_end IS NULL
	           WHERE ip.item_id = ?
	           ORDER BY p.name, p.identity`
	rows, err := r.db.QueryContext(ctx, q, itemIdentity)
	if err != nil {
		return nil, err
	}
	var props []model.Property
	for rows.Next() {
		var v versionRow
		var p model.Property
		if err := rows.Scan(&v.id, &v.identity, &v.start, &v.end, &p.EventIdentity, &p.Name); err != nil {
			rows.Close()
			return nil, err
		}
		p.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
		props = append(props, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range props {
		values, err := r.valuesOf(ctx, props[i].Identity)
		if err != nil {
			return nil, err
		}
		props[i].Values = values
	}
	return props, nil
}

// valuesOf loads the head versions of all values of a property,
// ordered by position.
func (r *PropertyRepo) valuesOf(ctx context.Context, propertyIdentity string) ([]model.PropertyValue, error) {
	const q = `SELECT id, identity, version_start, version_end, property_identity, value, position
	           FROM property_values
	           WHERE property_identity = ? AND version_end IS NULL
	           ORDER BY position, identity`
	rows, err := r.db.QueryContext(ctx, q, propertyIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []model.PropertyValue
	for rows.Next() {
		var v versionRow
		var pv model.PropertyValue
		if err := rows.Scan(&v.id, &v.identity, &v.start, &v.end, &pv.PropertyIdentity, &pv.Value, &pv.Position); err != nil {
			return nil, err
		}
		pv.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
		values = append(values, pv)
	}
	return values, rows.Err()
}
