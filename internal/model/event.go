package model

import "time"

// Event is anything tickets can be sold for.  It belongs to one
// organizer and owns all items, categories, properties, questions,
// quotas and restrictions below it.  The event is also the root of
// the cache-invalidation scope: mutating any owned entity dirties
// exactly one event's cache.
//
// Fields:
//  OrganizerIdentity – identity of the owning organizer.
//  Name              – event name.
//  Slug              – short name, unique per organizer.
//  Currency          – default currency code (e.g. "EUR").
//  DateFrom          – start of the event itself.
//  DateTo            – end of the event (nil if open-ended).
//  PresaleStart      – no items are sold before this date (nil = no limit).
//  PresaleEnd        – no items are sold after this date (nil = no limit).
//  PaymentTermDays   – days a pending order stays reserved before expiry.
type Event struct {
	Versioned
	OrganizerIdentity string     // events.organizer_identity
	Name              string     // events.name
	Slug              string     // events.slug
	Currency          string     // events.currency
	DateFrom          time.Time  // events.date_from
	DateTo            *time.Time // events.date_to (nullable)
	PresaleStart      *time.Time // events.presale_start (nullable)
	PresaleEnd        *time.Time // events.presale_end (nullable)
	PaymentTermDays   uint32     // events.payment_term_days
}
