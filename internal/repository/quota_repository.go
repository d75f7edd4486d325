package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var quotaSpec = versionedSpec{
	table:   "quotas",
	columns: []string{"event_identity", "name", "size"},
	links: []linkSpec{
		{table: "quota_items", ownerCol: "quota_id", copyCols: []string{"item_identity"}},
		{table: "quota_variations", ownerCol: "quota_id", copyCols: []string{"variation_identity"}},
	},
}

// QuotaRepo provides data access to quotas and their item and
// variation scope links.
type QuotaRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewQuotaRepo returns a new QuotaRepo.  caches may be nil in tests.
func NewQuotaRepo(db *sql.DB, caches *cache.Cache) *QuotaRepo {
	return &QuotaRepo{db: db, caches: caches}
}

func (r *QuotaRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

// Create persists a new quota together with its scope links and clears
// the event cache.
func (r *QuotaRepo) Create(ctx context.Context, q *model.Quota) error {
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
	q.Versioned = model.NewVersioned(time.Now())
	if _, err := tx.ExecContext(ctx, quotaSpec.insertHead(),
		q.ID, q.Identity, q.VersionStart, q.EventIdentity, q.Name, q.Size); err != nil {
		return err
	}
	for _, it := range q.ItemIdentities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quota_items (quota_id, item_identity) VALUES (?, ?)`, q.Identity, it); err != nil {
			return err
		}
	}
	for _, v := range q.VariationIdentities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quota_variations (quota_id, variation_identity) VALUES (?, ?)`, q.Identity, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, q.EventIdentity)
	return nil
}

// Update snapshots the current version and applies the name and size
// to the head row.  The scope links are carried over unchanged.
func (r *QuotaRepo) Update(ctx context.Context, q *model.Quota) error {
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
	if _, err := quotaSpec.cloneTx(ctx, tx, q.Identity, time.Now(), false); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE quotas SET name = ?, size = ? WHERE identity = ? AND version_end IS NULL`,
		q.Name, q.Size, q.Identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, q.EventIdentity)
	return nil
}

// Head returns the current version of a quota with its scope links loaded.
func (r *QuotaRepo) Head(ctx context.Context, identity string) (*model.Quota, error) {
	q, err := scanQuota(r.db.QueryRowContext(ctx, quotaSpec.selectHead(), identity))
	if err != nil {
		return nil, err
	}
	if err := r.loadLinks(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListByEvent returns the current versions of all quotas of an event
// with their scope links loaded.
func (r *QuotaRepo) ListByEvent(ctx context.Context, eventIdentity string) ([]model.Quota, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+versionCols+", "+strings.Join(quotaSpec.columns, ", ")+
			" FROM quotas WHERE event_identity = ? AND version_end IS NULL ORDER BY name",
		eventIdentity)
	if err != nil {
		return nil, err
	}
	var quotas []model.Quota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		quotas = append(quotas, *q)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range quotas {
		if err := r.loadLinks(ctx, &quotas[i]); err != nil {
			return nil, err
		}
	}
	return quotas, nil
}

func (r *QuotaRepo) loadLinks(ctx context.Context, q *model.Quota) error {
	items, err := r.linkColumn(ctx, "quota_items", "item_identity", q.Identity)
	if err != nil {
		return err
	}
	variations, err := r.linkColumn(ctx, "quota_variations", "variation_identity", q.Identity)
	if err != nil {
		return err
	}
	q.ItemIdentities = items
	q.VariationIdentities = variations
	return nil
}

func (r *QuotaRepo) linkColumn(ctx context.Context, table, col, quotaIdentity string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+col+" FROM "+table+" WHERE quota_id = ? ORDER BY "+col, quotaIdentity)
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

func scanQuota(row rowScanner) (*model.Quota, error) {
	var v versionRow
	var q model.Quota
	if err := row.Scan(&v.id, &v.identity, &v.start, &v.end,
		&q.EventIdentity, &q.Name, &q.Size); err != nil {
		return nil, notFoundErr(err)
	}
	q.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
	return &q, nil
}
