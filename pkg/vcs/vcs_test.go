// SPDX-License-Identifier: Apache-2.0

package vcs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-db/git-db/pkg/vcs"
)

func newRepo(t *testing.T) (*vcs.Repo, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := vcs.Init(dir)
	require.NoError(t, err)
	return repo, dir
}

func TestCheckoutOrphan_CreatesBranchWithNoParent(t *testing.T) {
	repo, dir := newRepo(t)

	require.NoError(t, repo.CheckoutOrphan("database/mydb"))

	active, err := repo.ActiveBranch()
	require.NoError(t, err)
	assert.Equal(t, "database/mydb", active)

	dirty, err := repo.HasUncommittedChanges()
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mydb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mydb", "structure.sql"), []byte("CREATE TABLE s.t (id int);"), 0o644))
	dirty, err = repo.HasUncommittedChanges()
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, repo.AddAllAndCommit("[GIT DB] initial commit"))

	dirty, err = repo.HasUncommittedChanges()
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestBranchExists(t *testing.T) {
	repo, _ := newRepo(t)

	exists, err := repo.BranchExists("database/mydb")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.CheckoutOrphan("database/mydb"))

	exists, err = repo.BranchExists("database/mydb")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConfigGetSetHas(t *testing.T) {
	repo, _ := newRepo(t)

	value, err := repo.ConfigGet("git-db", "databasebranchprefix", "database")
	require.NoError(t, err)
	assert.Equal(t, "database", value)

	has, err := repo.ConfigHas("git-db", "databasebranchprefix")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.ConfigSet("git-db", "databasebranchprefix", "db"))

	has, err = repo.ConfigHas("git-db", "databasebranchprefix")
	require.NoError(t, err)
	assert.True(t, has)

	value, err = repo.ConfigGet("git-db", "databasebranchprefix", "database")
	require.NoError(t, err)
	assert.Equal(t, "db", value)
}

func TestConfigGetSet_Subsection(t *testing.T) {
	repo, _ := newRepo(t)

	require.NoError(t, repo.ConfigSet("branch.main", "database", "mydb"))

	value, err := repo.ConfigGet("branch.main", "database", "")
	require.NoError(t, err)
	assert.Equal(t, "mydb", value)

	// a different subsection under the same section is independent.
	value, err = repo.ConfigGet("branch.other", "database", "")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestDiff_AddedModifiedDeleted(t *testing.T) {
	repo, dir := newRepo(t)
	require.NoError(t, repo.CheckoutOrphan("database/mydb"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mydb"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mydb", "keep.sql"), []byte("CREATE TABLE s.keep (id int);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mydb", "drop.sql"), []byte("CREATE TABLE s.drop (id int);"), 0o644))
	require.NoError(t, repo.AddAllAndCommit("[GIT DB] initial commit"))

	baseline, err := repo.CommitOf("database/mydb")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "mydb", "drop.sql")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mydb", "keep.sql"), []byte("CREATE TABLE s.keep (id int, name text);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mydb", "new.sql"), []byte("CREATE TABLE s.new (id int);"), 0o644))
	require.NoError(t, repo.AddAllAndCommit("[GIT DB] pulled from remote"))

	changes, err := repo.Diff(baseline, "database/mydb")
	require.NoError(t, err)

	kinds := map[string]vcs.ChangeKind{}
	for _, c := range changes {
		path := c.PathB
		if path == "" {
			path = c.PathA
		}
		kinds[path] = c.Kind
	}

	assert.Equal(t, vcs.Deleted, kinds["mydb/drop.sql"])
	assert.Equal(t, vcs.Added, kinds["mydb/new.sql"])
	assert.Equal(t, vcs.Modified, kinds["mydb/keep.sql"])
}
