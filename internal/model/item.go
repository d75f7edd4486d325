package model

// ItemCategory groups items for display.  Categories only carry a name
// and a configurable position.
type ItemCategory struct {
	Versioned
	EventIdentity string // item_categories.event_identity
	Name          string // item_categories.name
	Position      int32  // item_categories.position
}

// Question is an input field that extends a ticket with custom
// information, e.g. "Attendee name".  Questions are attached to items
// via the item_questions link table.
type Question struct {
	Versioned
	EventIdentity string // questions.event_identity
	Question      string // questions.question
	Type          string // questions.type (N, S, T or B)
	Required      bool   // questions.required
}

// Question types.
const (
	QuestionTypeNumber  = "N"
	QuestionTypeString  = "S"
	QuestionTypeText    = "T"
	QuestionTypeBoolean = "B"
)

// QuestionAnswer stores a buyer's answer to one question.  Answers are
// collected against the cart position during checkout and re-homed
// onto the resulting order position when the cart converts, so they
// survive the cart row's removal.  Plain rows, not versioned.
type QuestionAnswer struct {
	ID               string  // question_answers.id
	CartPositionID   *string // question_answers.cart_position_id (nullable)
	OrderPositionID  *string // question_answers.order_position_id (nullable)
	QuestionIdentity string  // question_answers.question_identity
	Answer           string  // question_answers.answer
}

// Item is a thing that can be sold.  It belongs to an event and may
// belong to a category.  It has a default price which variations and
// restrictions may override.
//
// Items are never physically deleted, as that would leave dangling
// references from historical orders.  Deleting an item sets the
// Deleted flag and forces Active to false instead.
//
// Fields:
//  EventIdentity     – identity of the owning event.
//  CategoryIdentity  – identity of the category (nil if uncategorized).
//  Name              – item name.
//  Active            – whether the item is currently sellable.
//  Deleted           – soft-delete flag; deleted items are never shown.
//  Description       – optional short description.
//  DefaultPriceCents – default price in cents (nil = free / undefined).
//  Properties        – properties attached to this item, populated by
//                      the repository when loading for enumeration.
//                      Not a column.
type Item struct {
	Versioned
	EventIdentity     string  // items.event_identity
	CategoryIdentity  *string // items.category_identity (nullable)
	Name              string  // items.name
	Active            bool    // items.active
	Deleted           bool    // items.deleted
	Description       *string // items.description (nullable)
	DefaultPriceCents *int64  // items.default_price_cents (nullable)

	Properties []Property `json:"-"` // loaded via item_properties
}
