// SPDX-License-Identifier: Apache-2.0

// Package patch is the Patch Assembler (C5): it diffs the active branch
// against its patch target, groups the changes by managed database, folds
// in pending ledger queries, and writes a numbered patch bundle under
// patches/patch_<N>/.
package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/pkg/differ"
	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/vcs"
)

// dbAction is one managed database's unit of work within a single
// Assemble run, mirroring the coordinator/DBAction idiom used elsewhere
// in this codebase for per-database fan-out: a stable ID per target,
// processed in a fixed order.
type dbAction struct {
	ID       string
	Database string
}

var tablePathRe = regexp.MustCompile(`^([^/]+)/structure/([^/]+)/tables/([^/]+)\.sql$`)

// Entry is one piece of content staged into a patch bundle, carrying the
// working-tree path it originated from for the `-- <path>` header.
type Entry struct {
	Path    string
	Content string
}

// bundle holds one managed database's staged changes, in the three lists
// spec.md §3.3 describes. Emission order is Delete, then New, then Update.
type bundle struct {
	New    []Entry
	Update []Entry
	Delete []Entry
}

func (b *bundle) empty() bool {
	return b == nil || (len(b.New) == 0 && len(b.Update) == 0 && len(b.Delete) == 0)
}

// Result reports what a successful Assemble produced.
type Result struct {
	Number    int
	Name      string
	Dir       string
	Databases []string
}

// configReaderWriter is the subset of *vcs.Repo used here, so tests can
// substitute a fake.
type configReaderWriter interface {
	ConfigGet(section, key, def string) (string, error)
	ConfigSet(section, key, value string) error
	ConfigHas(section, key string) (bool, error)
}

// ResolveTrackedDatabase implements step 1 of the Assembler algorithm: it
// reads the active branch's tracked database, falling back to implicitly
// registering the configured default database as the tracking target when
// none is set. It returns ErrNotTracked when neither is available.
func ResolveTrackedDatabase(cfg configReaderWriter, activeBranch string, global gitdbconfig.Global) (string, error) {
	branch, err := gitdbconfig.ReadBranch(cfg, activeBranch)
	if err != nil {
		return "", fmt.Errorf("reading branch %q tracking config: %w", activeBranch, err)
	}
	if branch.Database != "" {
		return branch.Database, nil
	}
	if global.DefaultDatabase == "" {
		return "", ErrNotTracked
	}
	if err := gitdbconfig.WriteBranchDatabase(cfg, activeBranch, global.DefaultDatabase); err != nil {
		return "", fmt.Errorf("registering default database %q as tracking target: %w", global.DefaultDatabase, err)
	}
	return global.DefaultDatabase, nil
}

// Assemble runs the full C5 algorithm. managedDatabases is the set of
// top-level directories on the tracked branch; ledgers provides each
// managed database's ledger connection, keyed by database name (absent
// entries are tolerated — their query phase is simply skipped).
func Assemble(ctx context.Context, repo *vcs.Repo, cfg configReaderWriter, workDir string, patchTarget, activeBranch string, branchName string, overwrite bool, managedDatabases []string, ledgers map[string]*ledger.Ledger) (Result, error) {
	changes, err := repo.Diff(patchTarget, activeBranch)
	if err != nil {
		return Result{}, fmt.Errorf("diffing %q against %q: %w", patchTarget, activeBranch, err)
	}

	bundles := make(map[string]*bundle)
	get := func(db string) *bundle {
		b, ok := bundles[db]
		if !ok {
			b = &bundle{}
			bundles[db] = b
		}
		return b
	}

	for _, c := range changes {
		switch c.Kind {
		case vcs.Added:
			m := tablePathRe.FindStringSubmatch(c.PathB)
			if m == nil {
				continue
			}
			get(m[1]).New = append(get(m[1]).New, Entry{Path: c.PathB, Content: c.BlobB})

		case vcs.Deleted:
			m := tablePathRe.FindStringSubmatch(c.PathA)
			if m == nil {
				continue
			}
			db, schema, table := m[1], m[2], m[3]
			get(db).Delete = append(get(db).Delete, Entry{
				Path:    c.PathA,
				Content: fmt.Sprintf("DROP TABLE IF EXISTS %s.%s;\n\n", schema, table),
			})

		case vcs.Modified:
			// repo.Diff pairs nodes by name at each tree level, so a
			// Modified change always has PathA == PathB; a renamed table
			// surfaces instead as an independent Deleted+Added pair above,
			// which already nets to "drop the old table, add the new one".
			m := tablePathRe.FindStringSubmatch(c.PathA)
			if m == nil {
				// Not a tables/ path (e.g. a query file edited in place):
				// only tables are diffed structurally, everything else is
				// shipped as a full replacement.
				dbName := strings.SplitN(c.PathA, "/", 2)[0]
				get(dbName).New = append(get(dbName).New, Entry{Path: c.PathB, Content: c.BlobB})
				continue
			}

			db, schema, table := m[1], m[2], m[3]
			alter := differ.Diff(c.BlobA, c.BlobB, schema, table)
			if alter != "" {
				get(db).Update = append(get(db).Update, Entry{Path: c.PathB, Content: alter})
			}
		}
	}

	dbNames := make(map[string]struct{}, len(bundles))
	for db := range bundles {
		dbNames[db] = struct{}{}
	}
	for _, db := range managedDatabases {
		dbNames[db] = struct{}{}
	}
	sortedDBs := make([]string, 0, len(dbNames))
	for db := range dbNames {
		sortedDBs = append(sortedDBs, db)
	}
	sort.Strings(sortedDBs)

	number := branchCurrentNext(cfg, branchName, overwrite)
	name := fmt.Sprintf("patch_%d", number)

	type pendingAssignment struct {
		l       *ledger.Ledger
		queryID int
	}
	var assignments []pendingAssignment

	for _, db := range sortedDBs {
		l, ok := ledgers[db]
		if !ok {
			continue
		}
		patchID, err := l.EnsurePatch(ctx, name)
		if err != nil {
			return Result{}, fmt.Errorf("registering patch %q for database %q: %w", name, db, err)
		}

		pending, err := l.PendingQueries(ctx, patchID)
		if err != nil {
			return Result{}, fmt.Errorf("listing pending queries for database %q: %w", db, err)
		}

		for _, q := range pending {
			content, err := os.ReadFile(filepath.Join(workDir, q.Path))
			if err != nil {
				return Result{}, fmt.Errorf("reading query %q for database %q: %w", q.Path, db, err)
			}
			get(db).New = append(get(db).New, Entry{Path: q.Path, Content: string(content)})
			assignments = append(assignments, pendingAssignment{l: l, queryID: q.ID})
		}
	}

	anyStaged := false
	for _, db := range sortedDBs {
		if !get(db).empty() {
			anyStaged = true
			break
		}
	}
	if !anyStaged {
		return Result{}, ErrNothingToPatch
	}

	patchDir := filepath.Join(workDir, "patches", name)
	if overwrite {
		if err := os.RemoveAll(patchDir); err != nil {
			return Result{}, fmt.Errorf("clearing existing patch directory %q: %w", patchDir, err)
		}
	}
	if err := os.MkdirAll(patchDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating patch directory %q: %w", patchDir, err)
	}

	actions := make([]dbAction, 0, len(sortedDBs))
	for _, db := range sortedDBs {
		actions = append(actions, dbAction{ID: uuid.NewString(), Database: db})
	}

	var writtenDBs []string
	for _, a := range actions {
		b := get(a.Database)
		if b.empty() {
			continue
		}
		content := renderBundle(b)
		destPath := filepath.Join(patchDir, a.Database+".sql")
		if err := os.WriteFile(destPath, []byte(content), 0o644); err != nil {
			return Result{}, fmt.Errorf("writing patch file %q (action %s): %w", destPath, a.ID, err)
		}
		writtenDBs = append(writtenDBs, a.Database)
	}

	for _, a := range assignments {
		patchID, err := a.l.EnsurePatch(ctx, name)
		if err != nil {
			return Result{}, fmt.Errorf("re-reading patch %q id: %w", name, err)
		}
		if err := a.l.AssignPatch(ctx, a.queryID, patchID); err != nil {
			return Result{}, fmt.Errorf("assigning query to patch %q: %w", name, err)
		}
	}

	if err := gitdbconfig.WriteBranchCurrent(cfg, branchName, number); err != nil {
		return Result{}, fmt.Errorf("recording patch number %d on branch %q: %w", number, branchName, err)
	}

	return Result{Number: number, Name: name, Dir: patchDir, Databases: writtenDBs}, nil
}

// branchCurrentNext resolves the patch number to allocate: the existing
// `current` value under --overwrite (1 when no patch exists yet, i.e.
// current is 0), or current+1 otherwise. It returns 1 if the branch
// config cannot be read.
func branchCurrentNext(cfg configReaderWriter, branchName string, overwrite bool) int {
	branch, err := gitdbconfig.ReadBranch(cfg, branchName)
	if err != nil {
		return 1
	}
	if overwrite {
		if branch.Current == 0 {
			return 1
		}
		return branch.Current
	}
	return branch.Current + 1
}

// renderBundle concatenates one database's entries in delete, new, update
// order, each preceded by a `-- <path>` header, then collapses runs of
// blank lines.
func renderBundle(b *bundle) string {
	var sb strings.Builder
	write := func(entries []Entry) {
		for _, e := range entries {
			sb.WriteString("-- ")
			sb.WriteString(e.Path)
			sb.WriteString("\n")
			sb.WriteString(e.Content)
			if !strings.HasSuffix(e.Content, "\n") {
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}
	write(b.Delete)
	write(b.New)
	write(b.Update)

	return collapseBlankLines(sb.String())
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankRunRe.ReplaceAllString(s, "\n\n")
}
