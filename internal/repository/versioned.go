package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// linkSpec describes one many-to-many link table owned by a versioned
// entity.  Link rows reference the owning row by its surrogate ID;
// because the head row always keeps ID == identity, the links of the
// current version are found under the identity itself, while links of
// superseded versions are pinned under the historical surrogate keys.
type linkSpec struct {
	table    string   // link table name
	ownerCol string   // column referencing the owning row's ID
	copyCols []string // remaining columns, copied verbatim on clone
}

// versionedSpec drives the shared clone-on-write machinery for one
// versioned table.  columns lists the entity-specific columns beyond
// the four version fields; their values are carried forward unchanged
// into the historical copy on clone.
type versionedSpec struct {
	table   string
	columns []string
	links   []linkSpec
}

// versionCols are the bookkeeping columns present on every versioned
// table, in scan order.
const versionCols = "id, identity, version_start, version_end"

// selectHead returns the query for the current version of an identity.
func (s versionedSpec) selectHead() string {
	return "SELECT " + versionCols + ", " + strings.Join(s.columns, ", ") +
		" FROM " + s.table + " WHERE identity = ? AND version_end IS NULL"
}

// selectAsOf returns the query for the version of an identity whose
// interval contains a given timestamp.  Bind the timestamp twice.
func (s versionedSpec) selectAsOf() string {
	return "SELECT " + versionCols + ", " + strings.Join(s.columns, ", ") +
		" FROM " + s.table +
		" WHERE identity = ? AND version_start <= ? AND (version_end IS NULL OR version_end > ?)"
}

// insertHead returns the INSERT statement for a freshly created
// entity.  The caller binds id, identity, version_start and then the
// entity columns in spec order; version_end starts out NULL.
func (s versionedSpec) insertHead() string {
	placeholders := strings.Repeat(", ?", len(s.columns))
	return "INSERT INTO " + s.table + " (id, identity, version_start, version_end, " +
		strings.Join(s.columns, ", ") + ") VALUES (?, ?, ?, NULL" + placeholders + ")"
}

// cloneTx snapshots the head row of an identity into a closed version
// interval.  On success the superseded state is stored under a fresh
// surrogate key with interval [version_start, at) and the head row's
// interval is advanced to start at `at`, so the head keeps its ID and
// all identity references stay valid.  The surrogate key of the
// historical copy is returned.
//
// cloneTx fails with ErrInvalidState when the identity is empty (the
// entity was never persisted), when only historical rows exist for the
// identity, or when `at` lies outside [version_start, now].  Clones of
// the same identity are serialized by the SELECT ... FOR UPDATE row
// lock; the version_end IS NULL guard on the snapshot INSERT acts as a
// compare-and-swap so a lost race surfaces as ErrInvalidState instead
// of a second open interval.
//
// When shallow is false, the head's many-to-many link rows are copied
// onto the historical surrogate so the snapshot keeps its relations.
// Shallow clones skip the relation rewrite; use them when the caller
// is about to rewrite the links anyway.
func (s versionedSpec) cloneTx(ctx context.Context, tx *sql.Tx, identity string, at time.Time, shallow bool) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: entity has no persisted key", ErrInvalidState)
	}
	at = at.UTC()

	var start time.Time
	err := tx.QueryRowContext(ctx,
		"SELECT version_start FROM "+s.table+" WHERE identity = ? AND version_end IS NULL FOR UPDATE",
		identity,
	).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish an unknown identity from a closed history.
		var n int
		if err2 := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+s.table+" WHERE identity = ?", identity,
		).Scan(&n); err2 != nil {
			return "", err2
		}
		if n == 0 {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: a historical row cannot be cloned", ErrInvalidState)
	}
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if at.Before(start) || at.After(now) {
		return "", fmt.Errorf("%w: clone timestamp must lie within [version_start, now]", ErrInvalidState)
	}

	histID := uuid.NewString()
	cols := strings.Join(s.columns, ", ")
	res, err := tx.ExecContext(ctx,
		"INSERT INTO "+s.table+" (id, identity, version_start, version_end, "+cols+") "+
			"SELECT ?, identity, version_start, ?, "+cols+
			" FROM "+s.table+" WHERE identity = ? AND version_end IS NULL",
		histID, at, identity,
	)
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected != 1 {
		return "", fmt.Errorf("%w: concurrent clone closed this version first", ErrInvalidState)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE "+s.table+" SET version_start = ? WHERE identity = ? AND version_end IS NULL",
		at, identity,
	); err != nil {
		return "", err
	}

	if !shallow {
		for _, l := range s.links {
			cols := strings.Join(l.copyCols, ", ")
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO "+l.table+" ("+l.ownerCol+", "+cols+") "+
					"SELECT ?, "+cols+" FROM "+l.table+" WHERE "+l.ownerCol+" = ?",
				histID, identity,
			); err != nil {
				return "", err
			}
		}
	}
	return histID, nil
}

// scanVersion reads the four version columns.  It is meant to be used
// at the start of each repository's row scan.
type versionRow struct {
	id       string
	identity string
	start    time.Time
	end      sql.NullTime
}

func (r *versionRow) endPtr() *time.Time {
	if !r.end.Valid {
		return nil
	}
	t := r.end.Time
	return &t
}

// notFoundErr maps sql.ErrNoRows onto the repository sentinel so that
// callers never need to import database/sql for lookup misses.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
