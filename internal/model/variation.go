package model

import (
	"sort"
	"strings"
)

// ItemVariation is an override record for one specific combination of
// property values (one value per property the item carries).
//
// Attention: ALL combinations of property values ALWAYS exist, whether
// or not an ItemVariation row is present for them.  ItemVariation rows
// do not prove existence; they only make it possible to override
// defaults (like the price) for certain combinations, or to exclude a
// combination entirely by setting Active to false.
//
// Restrictions can be scoped not only to items but also directly to
// variations.
type ItemVariation struct {
	Versioned
	ItemIdentity      string // item_variations.item_identity
	Active            bool   // item_variations.active
	DefaultPriceCents *int64 // item_variations.default_price_cents (nullable)

	Values []PropertyValue `json:"-"` // loaded via variation_values
}

// Signature returns the combination signature of this variation's
// attached values.  Two variations of the same item must never share a
// signature.
func (v *ItemVariation) Signature() string {
	pairs := make([]ValuePair, 0, len(v.Values))
	for _, val := range v.Values {
		pairs = append(pairs, ValuePair{
			PropertyIdentity: val.PropertyIdentity,
			ValueIdentity:    val.Identity,
		})
	}
	return Signature(pairs)
}

// ValuePair names one chosen property value.
type ValuePair struct {
	PropertyIdentity string
	ValueIdentity    string
}

// Signature computes the canonical signature of a combination of
// property values: the sorted set of (property-identity,
// value-identity) pairs joined into a single string.  The signature is
// independent of input order.
func Signature(pairs []ValuePair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.PropertyIdentity+"="+p.ValueIdentity)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
