package variation

import (
	"github.com/iliyamo/event-ticket-reservation/internal/model"
)

// Binding is one concrete combination of property values for an item:
// exactly one value per property, in enumeration order, plus the
// variation override record for this combination if one exists.
//
// Every combination exists whether or not an override is attached; a
// nil Variation simply means the item's defaults apply.
type Binding struct {
	Values    []model.PropertyValue
	Variation *model.ItemVariation
}

// Active reports whether this combination can currently be sold.
// Combinations without an override are active by default.
func (b *Binding) Active() bool {
	return b.Variation == nil || b.Variation.Active
}

// PriceCents resolves the effective price of this combination: the
// override's price when the variation carries one, the item default
// otherwise.  A nil result means no price is configured at all.
func (b *Binding) PriceCents(itemDefault *int64) *int64 {
	if b.Variation != nil && b.Variation.DefaultPriceCents != nil {
		return b.Variation.DefaultPriceCents
	}
	return itemDefault
}

// Signature returns the canonical signature of this combination.
func (b *Binding) Signature() string {
	pairs := make([]model.ValuePair, 0, len(b.Values))
	for _, v := range b.Values {
		pairs = append(pairs, model.ValuePair{
			PropertyIdentity: v.PropertyIdentity,
			ValueIdentity:    v.Identity,
		})
	}
	return model.Signature(pairs)
}

// VariationIdentity returns the identity of the attached override, or
// nil when the combination has none.
func (b *Binding) VariationIdentity() *string {
	if b.Variation == nil {
		return nil
	}
	id := b.Variation.Identity
	return &id
}

// Enumerate computes the full Cartesian product of the given
// properties' values and attaches each override to the combination it
// belongs to.  The result is deterministic: the first property varies
// slowest and values follow their position order, so the caller gets
// the same sequence for the same inputs every time.
//
// An item without properties has exactly one combination, the empty
// one.  A property without values makes the product empty: no
// combinations exist until the property gets at least one value.
func Enumerate(props []model.Property, overrides []model.ItemVariation) []Binding {
	total := 1
	for i := range props {
		total *= len(props[i].Values)
	}
	if total == 0 {
		return nil
	}

	bySignature := make(map[string]*model.ItemVariation, len(overrides))
	for i := range overrides {
		bySignature[overrides[i].Signature()] = &overrides[i]
	}

	bindings := make([]Binding, 0, total)
	indices := make([]int, len(props))
	for {
		values := make([]model.PropertyValue, len(props))
		for i := range props {
			values[i] = props[i].Values[indices[i]]
		}
		b := Binding{Values: values}
		b.Variation = bySignature[b.Signature()]
		bindings = append(bindings, b)

		// Advance like an odometer with the last property fastest.
		i := len(indices) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(props[i].Values) {
				break
			}
			indices[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return bindings
}
