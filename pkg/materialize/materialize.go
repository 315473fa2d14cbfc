// SPDX-License-Identifier: Apache-2.0

// Package materialize is the Materializer (C3): given a remote's
// connection info, it walks the live server and rewrites the working
// tree's database branch to reflect its current state.
package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/pkg/pgdb"
	"github.com/git-db/git-db/pkg/sqlcheck"
	"github.com/git-db/git-db/pkg/vcs"
)

const (
	initialCommitMessage = "[GIT DB] initial commit"
	pulledCommitMessage  = "[GIT DB] pulled from remote"
)

// Summary reports what a materialization touched, for the caller to
// render.
type Summary struct {
	BranchName    string
	BranchCreated bool
	Databases     []string
	Committed     bool
}

// Materialize runs the full C3 algorithm for remote against repo, rooted
// at workDir. branchPrefix is the `databasebranchprefix` global config
// value.
func Materialize(ctx context.Context, repo *vcs.Repo, workDir, branchPrefix string, remote gitdbconfig.Remote) (Summary, error) {
	dirty, err := repo.HasUncommittedChanges()
	if err != nil {
		return Summary{}, err
	}
	if dirty {
		return Summary{}, ErrDirtyTree
	}

	branchName := branchPrefix + "/" + remote.Name
	exists, err := repo.BranchExists(branchName)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{BranchName: branchName, BranchCreated: !exists}

	var commitMessage string
	if exists {
		if err := repo.Checkout(branchName); err != nil {
			return Summary{}, err
		}
		if err := repo.RemoveAllTracked(); err != nil {
			return Summary{}, err
		}
		commitMessage = pulledCommitMessage
	} else {
		if err := repo.CheckoutOrphan(branchName); err != nil {
			return Summary{}, err
		}
		commitMessage = initialCommitMessage
	}

	serverConn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, "")
	if err != nil {
		return Summary{}, fmt.Errorf("connecting to remote %q: %w", remote.Name, err)
	}
	defer serverConn.Close()

	databases, err := serverConn.ListDatabases(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing databases on remote %q: %w", remote.Name, err)
	}

	for _, dbName := range databases {
		if err := materializeDatabase(ctx, workDir, remote, dbName); err != nil {
			return Summary{}, err
		}
		summary.Databases = append(summary.Databases, dbName)
	}

	dirty, err = repo.HasUncommittedChanges()
	if err != nil {
		return Summary{}, err
	}
	if dirty {
		if err := repo.AddAllAndCommit(commitMessage); err != nil {
			return Summary{}, err
		}
		summary.Committed = true
	}

	return summary, nil
}

func materializeDatabase(ctx context.Context, workDir string, remote gitdbconfig.Remote, dbName string) error {
	dbDir := filepath.Join(workDir, dbName)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("creating directory for database %q: %w", dbName, err)
	}

	conn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, dbName)
	if err != nil {
		return fmt.Errorf("connecting to database %q: %w", dbName, err)
	}
	defer conn.Close()

	schemas, err := conn.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("listing schemas in database %q: %w", dbName, err)
	}

	for _, schema := range schemas {
		tablesDir := filepath.Join(dbDir, "structure", schema, "tables")
		if err := os.MkdirAll(tablesDir, 0o755); err != nil {
			return fmt.Errorf("creating tables directory for %q.%q: %w", dbName, schema, err)
		}

		tables, err := conn.ListTables(ctx, schema)
		if err != nil {
			return fmt.Errorf("listing tables in %q.%q: %w", dbName, schema, err)
		}

		for _, table := range tables {
			if err := materializeTable(ctx, remote, dbName, schema, table, tablesDir); err != nil {
				return err
			}
		}
	}

	return nil
}

func materializeTable(ctx context.Context, remote gitdbconfig.Remote, dbName, schema, table, tablesDir string) error {
	destPath := filepath.Join(tablesDir, table+".sql")

	opts := pgdb.DumpOptions{
		Host:     remote.URL,
		Port:     remote.Port,
		User:     remote.User,
		Password: remote.Password,
		Database: dbName,
		Schema:   schema,
		Table:    table,
	}
	if err := pgdb.DumpTableDDL(ctx, opts, destPath); err != nil {
		return fmt.Errorf("%w %q.%q.%q: %w", ErrDumpFailure, dbName, schema, table, err)
	}

	ddl, err := os.ReadFile(destPath)
	if err != nil {
		return fmt.Errorf("%w %q.%q.%q: reading dump: %w", ErrDumpFailure, dbName, schema, table, err)
	}

	if err := sqlcheck.ValidateTableDump(string(ddl), schema, table); err != nil {
		return fmt.Errorf("%w %q.%q.%q: %w", ErrDumpFailure, dbName, schema, table, err)
	}

	return nil
}
