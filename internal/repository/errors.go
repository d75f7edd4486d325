// Package repository implements data access on top of database/sql.
// This file defines sentinel error values reused across multiple
// repositories so that higher layers can distinguish failure
// scenarios with errors.Is.
package repository

import "errors"

// ErrNotFound is returned when a lookup by identity (or by identity
// and timestamp) does not match any row.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned for illegal version operations, such as
// cloning an entity that was never persisted, cloning an
// already-historical row, or cloning with a timestamp outside the
// permitted window.
var ErrInvalidState = errors.New("invalid state")

// ErrSignatureConflict is returned when an item variation would
// duplicate the property-value combination of an existing variation of
// the same item.
var ErrSignatureConflict = errors.New("variation signature conflict")
