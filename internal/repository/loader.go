package repository

import (
	"context"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// VariationLoader bundles the two queries the combination engine needs
// for one item.  It satisfies the engine's loader interface.
type VariationLoader struct {
	properties *PropertyRepo
	variations *VariationRepo
}

// NewVariationLoader returns a loader reading through the given repositories.
func NewVariationLoader(properties *PropertyRepo, variations *VariationRepo) *VariationLoader {
	return &VariationLoader{properties: properties, variations: variations}
}

// Properties returns the item's properties with values, in enumeration order.
func (l *VariationLoader) Properties(ctx context.Context, itemIdentity string) ([]model.Property, error) {
	return l.properties.ListByItem(ctx, itemIdentity)
}

// Variations returns the item's override records with values loaded.
func (l *VariationLoader) Variations(ctx context.Context, itemIdentity string) ([]model.ItemVariation, error) {
	return l.variations.ListByItem(ctx, itemIdentity)
}
