package model

import "time"

// OrderStatus enumerates the lifecycle states of an order.  The stored
// values are the literal state names; pending means not yet paid and
// paid means payment received.
type OrderStatus string

// Order states.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled:
		return true
	}
	return false
}

// ConsumesQuota reports whether orders in this state count against
// quota capacity.  Expired and cancelled orders release their units
// back to the pool.
func (s OrderStatus) ConsumesQuota() bool {
	return s == OrderStatusPending || s == OrderStatusPaid
}

// Order is created when a cart is converted.  It aggregates order
// positions and carries an expiration date: if items run out of
// capacity, pending orders past their expiration may be cancelled.
//
// Important: an order holds its total monetary value frozen at
// creation time.  An order is a piece of history and must never change
// because of a later change in item prices.
type Order struct {
	Versioned
	EventIdentity string      // orders.event_identity
	Status        OrderStatus // orders.status
	Datetime      time.Time   // orders.datetime
	Expires       time.Time   // orders.expires
	PaymentDate   *time.Time  // orders.payment_date (nullable)
	PaymentInfo   *string     // orders.payment_info (nullable)
	TotalCents    int64       // orders.total_cents
}

// OrderPosition is one line of an order: a single ordered unit of an
// item, optionally narrowed to a variation.  Like the order itself it
// freezes its price at purchase time.  Order positions are plain rows,
// not versioned entities.
type OrderPosition struct {
	ID                string    // order_positions.id
	OrderIdentity     string    // order_positions.order_identity
	ItemIdentity      string    // order_positions.item_identity
	VariationIdentity *string   // order_positions.variation_identity (nullable)
	PriceCents        int64     // order_positions.price_cents
	CreatedAt         time.Time // order_positions.created_at
}
