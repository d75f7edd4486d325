// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderPlacedEvent is published when a cart position is converted into
// an order.  It carries enough information for downstream consumers to
// log, notify, or trigger analytics without querying the primary
// database.
type OrderPlacedEvent struct {
	OrderIdentity     string  `json:"order_identity"`
	EventIdentity     string  `json:"event_identity"`
	ItemIdentity      string  `json:"item_identity"`
	VariationIdentity *string `json:"variation_identity,omitempty"`
	TotalCents        int64   `json:"total_cents"`
	ExpiresAt         string  `json:"expires_at"`
	PlacedAt          string  `json:"placed_at"`
}
