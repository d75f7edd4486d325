package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var itemSpec = versionedSpec{
	table: "items",
	columns: []string{
		"event_identity", "category_identity", "name", "active",
		"deleted", "description", "default_price_cents",
	},
	links: []linkSpec{
		{table: "item_properties", ownerCol: "item_id", copyCols: []string{"property_identity"}},
		{table: "item_questions", ownerCol: "item_id", copyCols: []string{"question_identity"}},
	},
}

// ItemRepo provides data access to the items table and its property
// and question links.  Items are never physically removed: deletion is
// a soft delete that keeps the row so historical orders stay
// resolvable.  Every mutation clears the owning event's cache.
type ItemRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewItemRepo returns a new ItemRepo.  caches may be nil in tests.
func NewItemRepo(db *sql.DB, caches *cache.Cache) *ItemRepo {
	return &ItemRepo{db: db, caches: caches}
}

func (r *ItemRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// Create persists a new item with an open version interval and clears
// the event cache.
func (r *ItemRepo) Create(ctx context.Context, it *model.Item) error {
	it.Versioned = model.NewVersioned(time.Now())
	_, err := r.db.ExecContext(ctx, itemSpec.insertHead(),
		it.ID, it.Identity, it.VersionStart,
		it.EventIdentity, it.CategoryIdentity, it.Name, it.Active,
		it.Deleted, it.Description, it.DefaultPriceCents)
	if err != nil {
		return err
	}
	r.clearCache(ctx, it.EventIdentity)
	return nil
}

// Head returns the current version of an item.
func (r *ItemRepo) Head(ctx context.Context, identity string) (*model.Item, error) {
	return r.scan(r.db.QueryRowContext(ctx, itemSpec.selectHead(), identity))
}

// AsOf returns the item version whose interval contains ts.
func (r *ItemRepo) AsOf(ctx context.Context, identity string, ts time.Time) (*model.Item, error) {
	return r.scan(r.db.QueryRowContext(ctx, itemSpec.selectAsOf(), identity, ts.UTC(), ts.UTC()))
}

// Clone snapshots the item's head at the given time, including its
// property and question links, and returns the refreshed head.
func (r *ItemRepo) Clone(ctx context.Context, identity string, at time.Time) (*model.Item, error) {
	return r.clone(ctx, identity, at, false)
}

// CloneShallow behaves like Clone but skips the link-table rewrite.
// Use it when the caller is about to replace the links anyway.
func (r *ItemRepo) CloneShallow(ctx context.Context, identity string, at time.Time) (*model.Item, error) {
	return r.clone(ctx, identity, at, true)
}

func (r *ItemRepo) clone(ctx context.Context, identity string, at time.Time, shallow bool) (*model.Item, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := itemSpec.cloneTx(ctx, tx, identity, at, shallow); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Head(ctx, identity)
}

// Update snapshots the current version and applies the passed field
// values to the head row, then clears the event cache.
func (r *ItemRepo) Update(ctx context.Context, it *model.Item) error {
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
	if _, err := itemSpec.cloneTx(ctx, tx, it.Identity, time.Now(), false); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE items SET category_identity = ?, name = ?, active = ?, description = ?, default_price_cents = ?
		 WHERE identity = ? AND version_end IS NULL`,
		it.CategoryIdentity, it.Name, it.Active, it.Description, it.DefaultPriceCents, it.Identity)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, it.EventIdentity)
	return nil
}

// SoftDelete marks an item as deleted and inactive.  The row is kept;
// removing it would leave dangling references from historical orders.
// Exactly one cache clear is performed on the owning event.
func (r *ItemRepo) SoftDelete(ctx context.Context, identity string) error {
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
	var eventIdentity string
	err = tx.QueryRowContext(ctx,
		`SELECT event_identity FROM items WHERE identity = ? AND version_end IS NULL`,
		identity).Scan(&eventIdentity)
	if err != nil {
		return notFoundErr(err)
	}
	if _, err := itemSpec.cloneTx(ctx, tx, identity, time.Now(), false); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET deleted = TRUE, active = FALSE WHERE identity = ? AND version_end IS NULL`,
		identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, eventIdentity)
	return nil
}

// SetProperties replaces the set of properties attached to an item.
// A shallow clone pins the previous state first; the link rows of the
// head are then rewritten in place.
func (r *ItemRepo) SetProperties(ctx context.Context, itemIdentity string, propertyIdentities []string) error {
	return r.setLinks(ctx, itemIdentity, "item_properties", "property_identity", propertyIdentities)
}

// SetQuestions replaces the set of questions attached to an item.
func (r *ItemRepo) SetQuestions(ctx context.Context, itemIdentity string, questionIdentities []string) error {
	return r.setLinks(ctx, itemIdentity, "item_questions", "question_identity", questionIdentities)
}

func (r *ItemRepo) setLinks(ctx context.Context, itemIdentity, table, col string, identities []string) error {
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
	var eventIdentity string
	err = tx.QueryRowContext(ctx,
		`SELECT event_identity FROM items WHERE identity = ? AND version_end IS NULL`,
		itemIdentity).Scan(&eventIdentity)
	if err != nil {
		return notFoundErr(err)
	}
	// The historical snapshot must keep the old links, so copy them
	// onto the snapshot explicitly and rewrite the head's links.
	histID, err := itemSpec.cloneTx(ctx, tx, itemIdentity, time.Now(), true)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE `+table+` SET item_id = ? WHERE item_id = ?`, histID, itemIdentity); err != nil {
		return err
	}
	if len(identities) > 0 {
		query := `INSERT INTO ` + table + ` (item_id, ` + col + `) VALUES `
		args := make([]interface{}, 0, len(identities)*2)
		for i, id := range identities {
			if i > 0 {
				query += ","
			}
			query += "(?, ?)"
			args = append(args, itemIdentity, id)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, eventIdentity)
	return nil
}

// ListByEvent returns the current versions of all items of an event,
// excluding soft-deleted ones.
func (r *ItemRepo) ListByEvent(ctx context.Context, eventIdentity string) ([]model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+versionCols+", "+strings.Join(itemSpec.columns, ", ")+
			" FROM items WHERE event_identity = ? AND version_end IS NULL AND deleted = FALSE ORDER BY name",
		eventIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Item
	for rows.Next() {
		it, err := r.scanRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ItemRepo) scan(row *sql.Row) (*model.Item, error) { return scanItem(row) }
func (r *ItemRepo) scanRows(rows *sql.Rows) (*model.Item, error) { return scanItem(rows) }

func scanItem(row rowScanner) (*model.Item, error) {
	var v versionRow
	var it model.Item
	var category, description sql.NullString
	var price sql.NullInt64
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end,
		&it.EventIdentity, &category, &it.Name, &it.Active,
		&it.Deleted, &description, &price); err != nil {
		return nil, notFoundErr(err)
	}
	it.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	if category.Valid {
		s := category.String
		it.CategoryIdentity = &s
	}
	if description.Valid {
		s := description.String
		it.Description = &s
	}
	if price.Valid {
		p := price.Int64
		it.DefaultPriceCents = &p
	}
	return &it, nil
}
