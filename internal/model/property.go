package model

// Property is a modifier that can be applied to an item.  For example
// "Size" would be a property associated with the item "T-Shirt".
type Property struct {
	Versioned
	EventIdentity string // properties.event_identity
	Name          string // properties.name

	Values []PropertyValue `json:"-"` // loaded, ordered by position
}

// PropertyValue is one value of a property.  If the property is
// "T-Shirt size", this could be "M" or "L".  Values are ordered by
// Position within their property; the variation engine relies on this
// ordering for deterministic enumeration.
type PropertyValue struct {
	Versioned
	PropertyIdentity string // property_values.property_identity
	Value            string // property_values.value
	Position         int32  // property_values.position
}
