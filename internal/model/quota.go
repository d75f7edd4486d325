package model

// Quota is a pool of tickets limiting the number of units of certain
// items or variations that can be sold.  For example, a quota of 500
// may apply to all items of an event (total venue capacity) while a
// second quota of 100 applies to the VIP variations only.  A unit is
// only sellable while every quota covering it still has headroom.
//
// Scope rule: if the quota names variations, it covers exactly those
// variations; otherwise it covers every variation of the items it
// names.  The narrower variation scope takes precedence.
//
// The persisted quota_lock_cache and quota_order_cache membership sets
// belong to this quota but are implementation-specific and considered
// private: they are only consulted as a fallback when the external
// lock backend is unreachable.
type Quota struct {
	Versioned
	EventIdentity string // quotas.event_identity
	Name          string // quotas.name
	Size          int64  // quotas.size (capacity ceiling)

	ItemIdentities      []string `json:"-"` // loaded via quota_items
	VariationIdentities []string `json:"-"` // loaded via quota_variations
}

// Covers reports whether this quota's scope includes the given item
// and (optionally) variation identity.
func (q *Quota) Covers(itemIdentity string, variationIdentity *string) bool {
	if len(q.VariationIdentities) > 0 {
		if variationIdentity == nil {
			return false
		}
		for _, v := range q.VariationIdentities {
			if v == *variationIdentity {
				return true
			}
		}
		return false
	}
	for _, it := range q.ItemIdentities {
		if it == itemIdentity {
			return true
		}
	}
	return false
}
