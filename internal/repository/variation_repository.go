package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

var variationSpec = versionedSpec{
	table:   "item_variations",
	columns: []string{"item_identity", "active", "default_price_cents"},
	links: []linkSpec{
		{table: "variation_values", ownerCol: "variation_id", copyCols: []string{"value_identity"}},
	},
}

// VariationRepo provides data access to item variations, the sparse
// override records attached to specific property-value combinations.
// Creation enforces the combination contract: exactly one value per
// property the item carries, and no two variations of the same item
// with the same signature.
type VariationRepo struct {
	db     *sql.DB
	caches *cache.Cache
}

// NewVariationRepo returns a new VariationRepo.  caches may be nil in tests.
func NewVariationRepo(db *sql.DB, caches *cache.Cache) *VariationRepo {
	return &VariationRepo{db: db, caches: caches}
}

func (r *VariationRepo) clearCache(ctx context.Context, eventIdentity string) {
	if r.caches != nil {
		_ = r.caches.ForEvent(eventIdentity).Clear(ctx)
	}
}

func (r *VariationRepo) eventOfItem(ctx context.Context, itemIdentity string) (string, error) {
	var eventIdentity string
	err := r.db.QueryRowContext(ctx,
		`SELECT event_identity FROM items WHERE identity = ? AND version_end IS NULL`,
		itemIdentity).Scan(&eventIdentity)
	return eventIdentity, notFoundErr(err)
}

// Create persists a new variation together with its value links.
//
// valueIdentities must name exactly one head property value per
// property attached to the item, no more and no less; anything else is
// rejected as ErrInvalidState.  A second variation of the same item
// with the same value combination is rejected as ErrSignatureConflict.
func (r *VariationRepo) Create(ctx context.Context, v *model.ItemVariation, valueIdentities []string) error {
	values, err := r.resolveValues(ctx, valueIdentities)
	if err != nil {
		return err
	}
	if err := r.checkCombination(ctx, v.ItemIdentity, values); err != nil {
		return err
	}
	v.Values = values

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

	// Lock the item's head row before the uniqueness check.  Every
	// writer of this item's variation set serializes on the same lock,
	// so two racing inserts of the same combination cannot both pass.
	var eventIdentity string
	err = tx.QueryRowContext(ctx,
		`SELECT event_identity FROM items WHERE identity = ? AND version_end IS NULL FOR UPDATE`,
		v.ItemIdentity).Scan(&eventIdentity)
	if err != nil {
		return notFoundErr(err)
	}

	taken, err := takenSignaturesTx(ctx, tx, v.ItemIdentity)
	if err != nil {
		return err
	}
	if taken[v.Signature()] {
		return fmt.Errorf("%w: combination already has a variation", ErrSignatureConflict)
	}

	v.Versioned = model.NewVersioned(time.Now())
	if _, err := tx.ExecContext(ctx, variationSpec.insertHead(),
		v.ID, v.Identity, v.VersionStart,
		v.ItemIdentity, v.Active, v.DefaultPriceCents); err != nil {
		return err
	}
	for _, val := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variation_values (variation_id, value_identity) VALUES (?, ?)`,
			v.Identity, val.Identity); err != nil {
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

// variationValueLink is one (variation, property, value) row of the
// signature query.  The property and value columns are empty for
// variations that have no value links at all.
type variationValueLink struct {
	variationID      string
	propertyIdentity string
	valueIdentity    string
}

// takenSignaturesTx collects the combination signatures of every head
// variation of an item.  It reads inside the caller's transaction so
// the result is consistent with the item lock held.
func takenSignaturesTx(ctx context.Context, tx *sql.Tx, itemIdentity string) (map[string]bool, error) {
	const q = `SELECT v.identity, pv.property_identity, vv.value_identity
	           FROM item_variations v
	           LEFT JOIN variation_values vv ON vv.variation_id = v.identity
	           LEFT JOIN property_values pv ON pv.identity = vv.value_identity AND pv.version_end IS NULL
	           WHERE v.item_identity = ? AND v.version_end IS NULL`
	rows, err := tx.QueryContext(ctx, q, itemIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []variationValueLink
	for rows.Next() {
		var l variationValueLink
		var property, value sql.NullString
		if err := rows.Scan(&l.variationID, &property, &value); err != nil {
			return nil, err
		}
		l.propertyIdentity = property.String
		l.valueIdentity = value.String
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupSignatures(links), nil
}

// groupSignatures folds value links per variation into the set of
// taken combination signatures.  A variation without any links owns
// the empty combination's signature.
func groupSignatures(links []variationValueLink) map[string]bool {
	pairs := make(map[string][]model.ValuePair)
	for _, l := range links {
		if _, ok := pairs[l.variationID]; !ok {
			pairs[l.variationID] = nil
		}
		if l.propertyIdentity == "" || l.valueIdentity == "" {
			continue
		}
		pairs[l.variationID] = append(pairs[l.variationID], model.ValuePair{
			PropertyIdentity: l.propertyIdentity,
			ValueIdentity:    l.valueIdentity,
		})
	}
	taken := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		taken[model.Signature(p)] = true
	}
	return taken
}

// resolveValues loads the head rows of the named property values.  A
// missing identity is ErrNotFound.
func (r *VariationRepo) resolveValues(ctx context.Context, identities []string) ([]model.PropertyValue, error) {
	values := make([]model.PropertyValue, 0, len(identities))
	for _, id := range identities {
		row := r.db.QueryRowContext(ctx, propertyValueSpec.selectHead(), id)
		var v versionRow
		var pv model.PropertyValue
		if err := row.Scan(&v.id, &v.identity, &v.start, &v.end,
			&pv.PropertyIdentity, &pv.Value, &pv.Position); err != nil {
			return nil, notFoundErr(err)
		}
		pv.Versioned = model.Versioned{ID: v.id, Identity: v.identity, VersionStart: v.start, VersionEnd: v.endPtr()}
		values = append(values, pv)
	}
	return values, nil
}

// checkCombination verifies that values cover each of the item's
// properties exactly once.
func (r *VariationRepo) checkCombination(ctx context.Context, itemIdentity string, values []model.PropertyValue) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT property_identity FROM item_properties WHERE item_id = ?`, itemIdentity)
	if err != nil {
		return err
	}
	defer rows.Close()
	required := map[string]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		required[p] = false
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, v := range values {
		seen, ok := required[v.PropertyIdentity]
		if !ok {
			return fmt.Errorf("%w: value %s belongs to a property the item does not carry", ErrInvalidState, v.Identity)
		}
		if seen {
			return fmt.Errorf("%w: two values chosen for the same property", ErrInvalidState)
		}
		required[v.PropertyIdentity] = true
	}
	for p, seen := range required {
		if !seen {
			return fmt.Errorf("%w: no value chosen for property %s", ErrInvalidState, p)
		}
	}
	return nil
}

// Update snapshots the current version and applies the active flag and
// price override to the head row.  The value links are immutable; a
// different combination is a different variation.
func (r *VariationRepo) Update(ctx context.Context, v *model.ItemVariation) error {
	eventIdentity, err := r.eventOfItem(ctx, v.ItemIdentity)
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
	histID, err := variationSpec.cloneTx(ctx, tx, v.Identity, time.Now(), true)
	if err != nil {
		return err
	}
	// Pin the value links onto the snapshot by hand: the combination
	// never changes, so the head and the snapshot share it and a plain
	// copy is enough.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO variation_values (variation_id, value_identity)
		 SELECT ?, value_identity FROM variation_values WHERE variation_id = ?`,
		histID, v.Identity); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE item_variations SET active = ?, default_price_cents = ? WHERE identity = ? AND version_end IS NULL`,
		v.Active, v.DefaultPriceCents, v.Identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	r.clearCache(ctx, eventIdentity)
	return nil
}

// Head returns the current version of a variation with its values loaded.
func (r *VariationRepo) Head(ctx context.Context, identity string) (*model.ItemVariation, error) {
	row := r.db.QueryRowContext(ctx, variationSpec.selectHead(), identity)
	v, err := scanVariation(row)
	if err != nil {
		return nil, err
	}
	values, err := r.valuesOf(ctx, v.Identity)
	if err != nil {
		return nil, err
	}
	v.Values = values
	return v, nil
}

// ListByItem returns the current versions of all variations of an item
// with their values loaded.
func (r *VariationRepo) ListByItem(ctx context.Context, itemIdentity string) ([]model.ItemVariation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+versionCols+", "+strings.Join(variationSpec.columns, ", ")+
			" FROM item_variations WHERE item_identity = ? AND version_end IS NULL ORDER BY identity",
		itemIdentity)
	if err != nil {
		return nil, err
	}
	var variations []model.ItemVariation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		variations = append(variations, *v)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range variations {
		values, err := r.valuesOf(ctx, variations[i].Identity)
		if err != nil {
			return nil, err
		}
		variations[i].Values = values
	}
	return variations, nil
}

// valuesOf loads the head property values linked to a variation.
func (r *VariationRepo) valuesOf(ctx context.Context, variationIdentity string) ([]model.PropertyValue, error) {
	const q = `SELECT pv.id, pv.identity, pv.version_start, pv.version_end, pv.property_identity, pv.value, pv.position
	           FROM variation_values vv
	           JOIN property_values pv ON pv.identity = vv.value_identity AND pv.version_end IS NULL
	           WHERE vv.variation_id = ?
	           ORDER BY pv.position, pv.identity`
	rows, err := r.db.QueryContext(ctx, q, variationIdentity)
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

func scanVariation(row rowScanner) (*model.ItemVariation, error) {
	var ver versionRow
	var v model.ItemVariation
	var price sql.NullInt64
	if err := row.Scan(&ver.id, &ver.identity, &ver.start, &ver.end,
		&v.ItemIdentity, &v.Active, &price); err != nil {
		return nil, notFoundErr(err)
	}
	v.Versioned = model.Versioned{ID: ver.id, Identity: ver.identity, VersionStart: ver.start, VersionEnd: ver.endPtr()}
	if price.Valid {
		p := price.Int64
		v.DefaultPriceCents = &p
	}
	return &v, nil
}
