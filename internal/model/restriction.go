package model

// Restriction is a rule limiting the availability of items or
// variations.  The row only stores the rule's kind and an opaque
// configuration document; the actual evaluation logic is resolved
// through the restriction registry so that plugins can supply new
// kinds without schema changes.
//
// A restriction is owned by exactly one event.  It may be scoped to a
// single item and further narrowed to a subset of that item's
// variations.
type Restriction struct {
	Versioned
	EventIdentity string  // restrictions.event_identity
	ItemIdentity  *string // restrictions.item_identity (nullable = all items)
	Kind          string  // restrictions.kind
	Config        []byte  // restrictions.config (JSON document)

	VariationIdentities []string `json:"-"` // loaded via restriction_variations
}

// AppliesTo reports whether this restriction's scope matches the given
// item and optional variation.
func (r *Restriction) AppliesTo(itemIdentity string, variationIdentity *string) bool {
	if r.ItemIdentity != nil && *r.ItemIdentity != itemIdentity {
		return false
	}
	if len(r.VariationIdentities) == 0 {
		return true
	}
	if variationIdentity == nil {
		return false
	}
	for _, v := range r.VariationIdentities {
		if v == *variationIdentity {
			return true
		}
	}
	return false
}
