// SPDX-License-Identifier: Apache-2.0

// Package apply is the Patch Applier (C6): it executes a patch bundle's
// per-database SQL files transactionally, creating any missing database
// and bootstrapping its ledger first, and records the outcome back into
// the ledger.
package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/sourcegraph/conc/pool"

	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/log"
	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/pgdb"
)

const maxWorkers = 8

// Outcome reports one managed database's result applying a bundle.
type Outcome struct {
	Database        string
	DatabaseCreated bool
	Applied         bool
	Err             error
}

// Apply executes every `<db>.sql` file in patchDir against remote. workDir
// is the repository working tree root, used to locate a newly created
// database's pre-existing query files for ledger back-registration.
// patchName and toolVersion are recorded into each affected database's
// ledger.
func Apply(ctx context.Context, patchDir, workDir string, remote gitdbconfig.Remote, patchName, toolVersion string) ([]Outcome, error) {
	entries, err := os.ReadDir(patchDir)
	if err != nil {
		return nil, fmt.Errorf("reading patch directory %q: %w", patchDir, err)
	}

	var dbNames []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		dbNames = append(dbNames, strings.TrimSuffix(e.Name(), ".sql"))
	}

	server, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, "")
	if err != nil {
		return nil, fmt.Errorf("connecting to remote %q: %w", remote.Name, err)
	}
	defer server.Close()

	existing, err := server.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing databases on remote %q: %w", remote.Name, err)
	}
	existingSet := make(map[string]bool, len(existing))
	for _, d := range existing {
		existingSet[d] = true
	}

	created := make(map[string]bool, len(dbNames))
	for _, dbName := range dbNames {
		if existingSet[dbName] {
			continue
		}
		if _, err := server.DB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
			return nil, fmt.Errorf("creating database %q: %w", dbName, err)
		}
		created[dbName] = true
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers < 1 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	var mu sync.Mutex
	outcomes := make([]Outcome, 0, len(dbNames))

	for _, dbName := range dbNames {
		dbName := dbName
		p.Go(func() {
			outcome := applyOne(ctx, patchDir, workDir, remote, dbName, created[dbName], patchName, toolVersion)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		})
	}
	p.Wait()

	return outcomes, nil
}

func applyOne(ctx context.Context, patchDir, workDir string, remote gitdbconfig.Remote, dbName string, wasCreated bool, patchName, toolVersion string) Outcome {
	outcome := Outcome{Database: dbName, DatabaseCreated: wasCreated}

	conn, err := pgdb.Connect(ctx, remote.URL, remote.Port, remote.User, remote.Password, dbName)
	if err != nil {
		outcome.Err = fmt.Errorf("connecting to database %q: %w", dbName, err)
		return outcome
	}
	defer conn.Close()

	l := ledger.New(conn.DB, toolVersion)

	// LedgerBootstrap failures warn and skip patch registration for this
	// database; they must never surface as outcome.Err, since that would
	// count an otherwise-successful DDL apply as a failed outcome.
	var ledgerReady bool
	if wasCreated {
		if err := l.Init(ctx); err != nil {
			log.Warn(fmt.Sprintf("could not bootstrap ledger for new database %q, skipping patch registration: %s", dbName, err))
		} else {
			ledgerReady = true
			if err := backRegisterQueries(ctx, l, workDir, dbName); err != nil {
				log.Warn(fmt.Sprintf("could not back-register queries for database %q: %s", dbName, err))
			}
		}
	} else {
		initialized, err := l.IsInitialized(ctx)
		if err != nil {
			log.Warn(fmt.Sprintf("could not check ledger for database %q, skipping patch registration: %s", dbName, err))
		} else if !initialized {
			if err := l.Init(ctx); err != nil {
				log.Warn(fmt.Sprintf("could not bootstrap ledger for database %q, skipping patch registration: %s", dbName, err))
			} else {
				ledgerReady = true
			}
		} else {
			ledgerReady = true
		}
	}

	if ledgerReady {
		if compat, err := l.CheckVersion(ctx); err == nil {
			switch compat {
			case ledger.VersionCompatSchemaNewer:
				log.Warn(fmt.Sprintf("database %q's ledger was initialized by a newer git-db than %s", dbName, toolVersion))
			case ledger.VersionCompatSchemaOlder:
				log.Warn(fmt.Sprintf("database %q's ledger was initialized by an older git-db than %s", dbName, toolVersion))
			}
		}
	}

	content, err := os.ReadFile(filepath.Join(patchDir, dbName+".sql"))
	if err != nil {
		outcome.Err = fmt.Errorf("%w: reading bundle for database %q: %v", ErrDDLApplyFailure, dbName, err)
		return outcome
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		outcome.Err = fmt.Errorf("%w: starting transaction for database %q: %v", ErrDDLApplyFailure, dbName, err)
		return outcome
	}

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		_ = tx.Rollback()
		outcome.Err = fmt.Errorf("%w: database %q: %w", ErrDDLApplyFailure, dbName, err)
		return outcome
	}

	if err := tx.Commit(); err != nil {
		outcome.Err = fmt.Errorf("%w: committing database %q: %w", ErrDDLApplyFailure, dbName, err)
		return outcome
	}

	outcome.Applied = true

	if ledgerReady {
		if _, err := l.EnsurePatch(ctx, patchName); err != nil {
			outcome.Err = fmt.Errorf("recording ledger for database %q: %w", dbName, err)
			return outcome
		}

		markTx, err := conn.Begin(ctx)
		if err != nil {
			outcome.Err = fmt.Errorf("recording ledger for database %q: %w", dbName, err)
			return outcome
		}
		if err := ledger.MarkPatchApplied(ctx, markTx, patchName); err != nil {
			_ = markTx.Rollback()
			outcome.Err = fmt.Errorf("recording ledger for database %q: %w", dbName, err)
			return outcome
		}
		if err := markTx.Commit(); err != nil {
			outcome.Err = fmt.Errorf("recording ledger for database %q: %w", dbName, err)
		}
	}

	return outcome
}

// backRegisterQueries walks <db>/queries/... under the working tree,
// registering every pre-existing query file into the freshly bootstrapped
// ledger as unapplied.
func backRegisterQueries(ctx context.Context, l *ledger.Ledger, workDir, dbName string) error {
	queriesDir := filepath.Join(workDir, dbName, "queries")
	info, err := os.Stat(queriesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(queriesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		rel, err := filepath.Rel(workDir, path)
		if err != nil {
			return err
		}
		relInDB, err := filepath.Rel(filepath.Join(dbName, "queries"), rel)
		if err != nil {
			return err
		}

		namespace := filepath.Dir(relInDB)
		if namespace == "." {
			namespace = ""
		}
		name := filepath.Base(relInDB)

		return l.RegisterQuery(ctx, name, namespace, rel)
	})
}
