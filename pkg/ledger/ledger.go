// SPDX-License-Identifier: Apache-2.0

// Package ledger owns the `git_db` schema that lives inside every managed
// database: the `patch` and `query` tables that make apply idempotent
// across developers, plus an advisory `tool_version` table recording
// which git-db build initialized the schema.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/mod/semver"
)

const sqlInit = `
CREATE SCHEMA IF NOT EXISTS git_db;

CREATE TABLE IF NOT EXISTS git_db.query (
  id SERIAL NOT NULL,
  name VARCHAR(128) NOT NULL,
  namespace VARCHAR(128) NOT NULL,
  path VARCHAR(256) NOT NULL,
  timestamp timestamp DEFAULT CURRENT_TIMESTAMP,
  applied BOOLEAN DEFAULT FALSE,
  applied_timestamp timestamp,
  applied_patch_id INT
);

CREATE TABLE IF NOT EXISTS git_db.patch (
  id SERIAL NOT NULL,
  name VARCHAR(128) NOT NULL,
  timestamp timestamp DEFAULT CURRENT_TIMESTAMP,
  applied BOOLEAN DEFAULT FALSE,
  applied_timestamp timestamp
);

CREATE TABLE IF NOT EXISTS git_db.tool_version (
  version VARCHAR(32) NOT NULL,
  initialized_at timestamp DEFAULT CURRENT_TIMESTAMP
);
`

// advisory lock key used to serialize concurrent ledger bootstraps against
// the same database; an arbitrary constant distinguishing this lock from
// any other the application might take.
const initLockKey int64 = 0x6769745f6462

// Ledger owns the git_db schema inside one managed database.
type Ledger struct {
	db          *sql.DB
	toolVersion string
}

// New wraps an already-open connection to a managed database.
func New(db *sql.DB, toolVersion string) *Ledger {
	return &Ledger{db: db, toolVersion: toolVersion}
}

// Init creates the git_db schema if missing and records the initializing
// tool version. Safe to call repeatedly.
func (l *Ledger) Init(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger init transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", initLockKey); err != nil {
		return fmt.Errorf("acquiring ledger init lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlInit); err != nil {
		return fmt.Errorf("creating git_db schema: %w", err)
	}

	var alreadyRecorded bool
	err = tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM git_db.tool_version)").Scan(&alreadyRecorded)
	if err != nil {
		return fmt.Errorf("checking tool_version: %w", err)
	}
	if !alreadyRecorded {
		if _, err := tx.ExecContext(ctx, "INSERT INTO git_db.tool_version (version) VALUES ($1)", l.toolVersion); err != nil {
			return fmt.Errorf("recording tool_version: %w", err)
		}
	}

	return tx.Commit()
}

// IsInitialized reports whether the git_db schema already exists in the
// connected database.
func (l *Ledger) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = 'git_db')").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking git_db schema: %w", err)
	}
	return exists, nil
}

// VersionCompatibility mirrors the result of comparing this binary's
// version against the version recorded when the schema was initialized.
// It never blocks an apply; callers log it as an advisory warning.
type VersionCompatibility int

const (
	VersionCompatCheckSkipped VersionCompatibility = iota
	VersionCompatSchemaOlder
	VersionCompatSchemaEqual
	VersionCompatSchemaNewer
)

// CheckVersion compares l.toolVersion against the version recorded in
// git_db.tool_version. It never returns an error that should abort an
// apply: a missing or malformed stored version simply skips the check.
func (l *Ledger) CheckVersion(ctx context.Context) (VersionCompatibility, error) {
	if l.toolVersion == "development" {
		return VersionCompatCheckSkipped, nil
	}

	var stored string
	err := l.db.QueryRowContext(ctx,
		"SELECT version FROM git_db.tool_version ORDER BY initialized_at DESC LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionCompatCheckSkipped, nil
	}
	if err != nil {
		return VersionCompatCheckSkipped, nil
	}
	if stored == "development" {
		return VersionCompatCheckSkipped, nil
	}

	storedV, toolV := ensureVPrefix(stored), ensureVPrefix(l.toolVersion)
	if !semver.IsValid(storedV) || !semver.IsValid(toolV) {
		return VersionCompatCheckSkipped, nil
	}

	switch semver.Compare(semver.Canonical(storedV), semver.Canonical(toolV)) {
	case -1:
		return VersionCompatSchemaOlder, nil
	case 1:
		return VersionCompatSchemaNewer, nil
	default:
		return VersionCompatSchemaEqual, nil
	}
}

func ensureVPrefix(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}

// Patch is one row of git_db.patch.
type Patch struct {
	ID               int
	Name             string
	Timestamp        time.Time
	Applied          bool
	AppliedTimestamp sql.NullTime
}

// Query is one row of git_db.query.
type Query struct {
	ID               int
	Name             string
	Namespace        string
	Path             string
	Timestamp        time.Time
	Applied          bool
	AppliedTimestamp sql.NullTime
	AppliedPatchID   sql.NullInt64
}

// EnsurePatch inserts a patch row by name if one doesn't already exist,
// and returns its id. The lookup and the insert are separate statements
// and git_db.patch has no unique constraint on name, so two callers racing
// on the same name can each insert a row.
func (l *Ledger) EnsurePatch(ctx context.Context, name string) (int, error) {
	var id int
	err := l.db.QueryRowContext(ctx, "SELECT id FROM git_db.patch WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up patch %q: %w", name, err)
	}

	err = l.db.QueryRowContext(ctx, "INSERT INTO git_db.patch (name) VALUES ($1) RETURNING id", name).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Class() == "23" {
			// another process won the race; re-read.
			if err := l.db.QueryRowContext(ctx, "SELECT id FROM git_db.patch WHERE name = $1", name).Scan(&id); err != nil {
				return 0, fmt.Errorf("re-reading patch %q after race: %w", name, err)
			}
			return id, nil
		}
		return 0, fmt.Errorf("inserting patch %q: %w", name, err)
	}

	return id, nil
}

// MarkPatchApplied sets a patch's applied flag and timestamp, and every
// query row that ships with it, atomically within the transaction tx.
func MarkPatchApplied(ctx context.Context, tx *sql.Tx, patchName string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE git_db.patch SET applied = true, applied_timestamp = now() WHERE name = $1", patchName); err != nil {
		return fmt.Errorf("marking patch %q applied: %w", patchName, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE git_db.query SET applied = true, applied_timestamp = now()
		WHERE applied_patch_id = (SELECT id FROM git_db.patch WHERE name = $1)`, patchName); err != nil {
		return fmt.Errorf("marking queries for patch %q applied: %w", patchName, err)
	}

	return nil
}

// PendingQueries returns every query row not yet applied that is either
// unassigned or already assigned to patchID, ordered by timestamp
// ascending — the set the Patch Assembler folds into the next bundle.
func (l *Ledger) PendingQueries(ctx context.Context, patchID int) ([]Query, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, namespace, path, timestamp, applied, applied_timestamp, applied_patch_id
		FROM git_db.query
		WHERE applied = false AND (applied_patch_id IS NULL OR applied_patch_id = $1)
		ORDER BY timestamp ASC`, patchID)
	if err != nil {
		return nil, fmt.Errorf("listing pending queries: %w", err)
	}
	defer rows.Close()

	var queries []Query
	for rows.Next() {
		var q Query
		if err := rows.Scan(&q.ID, &q.Name, &q.Namespace, &q.Path, &q.Timestamp, &q.Applied, &q.AppliedTimestamp, &q.AppliedPatchID); err != nil {
			return nil, fmt.Errorf("scanning query row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// RegisterQuery inserts a new query file into the ledger, unapplied.
func (l *Ledger) RegisterQuery(ctx context.Context, name, namespace, path string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO git_db.query (name, namespace, path) VALUES ($1, $2, $3)", name, namespace, path)
	if err != nil {
		return fmt.Errorf("registering query %q: %w", path, err)
	}
	return nil
}

// AssignPatch updates a query row to reference the patch that will ship
// it, for the Assembler's query phase.
func (l *Ledger) AssignPatch(ctx context.Context, queryID, patchID int) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE git_db.query SET applied_patch_id = $1 WHERE id = $2", patchID, queryID)
	if err != nil {
		return fmt.Errorf("assigning query %d to patch %d: %w", queryID, patchID, err)
	}
	return nil
}

// ListPatches returns every patch row, most recent first, for the `patch
// status` convenience command.
func (l *Ledger) ListPatches(ctx context.Context) ([]Patch, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, name, timestamp, applied, applied_timestamp FROM git_db.patch ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing patches: %w", err)
	}
	defer rows.Close()

	var patches []Patch
	for rows.Next() {
		var p Patch
		if err := rows.Scan(&p.ID, &p.Name, &p.Timestamp, &p.Applied, &p.AppliedTimestamp); err != nil {
			return nil, fmt.Errorf("scanning patch row: %w", err)
		}
		patches = append(patches, p)
	}
	return patches, rows.Err()
}

// ListQueries returns every query row, most recent first, for the `query
// list` convenience command.
func (l *Ledger) ListQueries(ctx context.Context) ([]Query, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, namespace, path, timestamp, applied, applied_timestamp, applied_patch_id
		FROM git_db.query ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	defer rows.Close()

	var queries []Query
	for rows.Next() {
		var q Query
		if err := rows.Scan(&q.ID, &q.Name, &q.Namespace, &q.Path, &q.Timestamp, &q.Applied, &q.AppliedTimestamp, &q.AppliedPatchID); err != nil {
			return nil, fmt.Errorf("scanning query row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}
