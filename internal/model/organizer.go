package model

// Organizer represents an entity organizing events, such as a company.
// Every organizer has a unique slug, a short all-lowercase name used
// in URLs and references.
//
// Fields:
//  Name – display name of the organizer.
//  Slug – unique short name (alphanumeric, lowercase).
type Organizer struct {
	Versioned
	Name string // organizers.name
	Slug string // organizers.slug
}
