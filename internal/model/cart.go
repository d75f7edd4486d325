package model

import "time"

// CartPosition is a short-lived, not-yet-committed reservation of one
// unit.  It follows the same price-freezing discipline as an order
// position but has a much shorter expiry: it blocks a unit in the
// quota pool so users are not thrown out while clicking through
// checkout, and releases the unit once it expires.
//
// Cart positions are plain rows, not versioned entities.
type CartPosition struct {
	ID                string    // cart_positions.id
	EventIdentity     string    // cart_positions.event_identity
	ItemIdentity      string    // cart_positions.item_identity
	VariationIdentity *string   // cart_positions.variation_identity (nullable)
	PriceCents        int64     // cart_positions.price_cents
	Datetime          time.Time // cart_positions.datetime
	Expires           time.Time // cart_positions.expires
}

// ExpiredAt reports whether the reservation no longer counts toward
// quota capacity at the given instant.  Expiry frees the unit by
// itself; the reaper only cleans up the leftover row afterwards.
func (p *CartPosition) ExpiredAt(now time.Time) bool {
	return !p.Expires.After(now)
}
