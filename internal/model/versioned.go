// Package model defines the domain entities stored in the database.
// Almost every entity embeds Versioned and is therefore subject to
// clone-on-write history tracking: mutating an entity first snapshots
// the current row into a closed version interval, then updates the
// open head row in place.  See internal/repository/versioned.go for
// the clone machinery.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Versioned carries the bookkeeping fields shared by all entities with
// version history.  Each physical row covers the half-open interval
// [VersionStart, VersionEnd); a nil VersionEnd marks the current head.
// For a given Identity at most one row is the head at any time, and
// the head row always keeps ID == Identity so that references by
// identity continue to resolve after a clone.  Superseded states are
// pinned under a fresh surrogate ID.
//
// Fields:
//  ID           – surrogate key of this physical row.
//  Identity     – stable logical key, constant across all versions.
//  VersionStart – beginning of this row's validity window.
//  VersionEnd   – end of this row's validity window (nil = head).
type Versioned struct {
	ID           string     // <table>.id
	Identity     string     // <table>.identity
	VersionStart time.Time  // <table>.version_start
	VersionEnd   *time.Time // <table>.version_end (nullable)
}

// NewVersioned initialises the version fields for a freshly created
// entity: a new identity, an open interval starting now, and the row
// ID equal to the identity.
func NewVersioned(now time.Time) Versioned {
	id := uuid.NewString()
	return Versioned{
		ID:           id,
		Identity:     id,
		VersionStart: now.UTC(),
	}
}

// IsHead reports whether this row is the current version.
func (v *Versioned) IsHead() bool { return v.VersionEnd == nil }

// IsHistorical reports whether this row's interval has been closed.
func (v *Versioned) IsHistorical() bool { return v.VersionEnd != nil }

// CoversAt reports whether ts falls inside this row's validity window.
func (v *Versioned) CoversAt(ts time.Time) bool {
	if ts.Before(v.VersionStart) {
		return false
	}
	return v.VersionEnd == nil || ts.Before(*v.VersionEnd)
}
