// SPDX-License-Identifier: Apache-2.0

// Package pgdb is the DB Adapter (C2): it opens connections to a Postgres
// server, enumerates databases/schemas/tables, and runs statements on
// behalf of the Materializer, Patch Assembler and Patch Applier.
package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"

	"github.com/git-db/git-db/internal/connstr"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

// schemas that are never treated as managed application schemas.
var ignoredSchemas = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
	"pg_toast":           true,
	"pg_temp_1":          true,
	"pg_toast_temp_1":    true,
}

// Conn wraps a *sql.DB and retries queries using an exponential backoff
// (with jitter) on lock_timeout errors, the same idiom the DB Adapter's
// ancestor project uses for every statement it runs against a managed
// database.
type Conn struct {
	DB *sql.DB
}

// Connect opens a connection to host:port/database as user, failing fast
// (ConnectRefused) if the server cannot be reached.
func Connect(ctx context.Context, host, port, user, password, database string) (*Conn, error) {
	dsn := connstr.Build(host, port, user, password, database)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database %q: %w", database, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if database != "" {
			return nil, fmt.Errorf("unable to connect to database %q: %w", database, err)
		}
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Conn{DB: db}, nil
}

func (c *Conn) Close() error {
	return c.DB.Close()
}

// ExecContext wraps sql.DB.ExecContext, retrying on lock_timeout errors.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		res, err := c.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}

		if isLockTimeout(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryContext wraps sql.DB.QueryContext, retrying on lock_timeout errors.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		rows, err := c.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}

		if isLockTimeout(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// Begin starts a transaction. Unlike ExecContext/QueryContext, transactions
// are never retried transparently: a failed DDL apply must surface as a
// DDLApplyFailure, not silently restart with a half-applied bundle already
// rolled back.
func (c *Conn) Begin(ctx context.Context) (*sql.Tx, error) {
	return c.DB.BeginTx(ctx, nil)
}

func isLockTimeout(err error) bool {
	pqErr := &pq.Error{}
	return errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ListDatabases returns every non-template database on the server,
// name-sorted ascending so the Materializer's output is a deterministic
// function of server state.
func (c *Conn) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := c.QueryContext(ctx, "SELECT datname FROM pg_database WHERE datistemplate = false")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// ListSchemas returns every schema in the connected database that is not
// one of the system schemas spec.md excludes, name-sorted ascending.
func (c *Conn) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := c.QueryContext(ctx, "SELECT schema_name FROM information_schema.schemata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if ignoredSchemas[name] {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// ListTables returns every table in the given schema, name-sorted
// ascending.
func (c *Conn) ListTables(ctx context.Context, schema string) ([]string, error) {
	rows, err := c.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'",
		schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// DumpOptions carries the connection parameters the external `pg_dump`
// process needs; they are passed as environment/flags rather than baked
// into a DSN because pg_dump takes them as discrete options.
type DumpOptions struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
	Table    string
}

// DumpTableDDL delegates to the external `pg_dump` schema-only dumper to
// produce a parseable .sql file for a single table. This remains a thin
// os/exec boundary: shelling out to `pg_dump` is explicitly the kind of
// narrow external interface spec.md §1 calls out as deliberately out of
// the core's scope.
func DumpTableDDL(ctx context.Context, opts DumpOptions, destPath string) error {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"--host", opts.Host,
		"--port", opts.Port,
		"--username", opts.User,
		"--schema-only",
		"--table", opts.Schema+"."+opts.Table,
		"--file", destPath,
		"--dbname="+opts.Database,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+opts.Password)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump failed for %s.%s: %w: %s", opts.Schema, opts.Table, err, out)
	}
	return nil
}
