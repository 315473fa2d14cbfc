// SPDX-License-Identifier: Apache-2.0

package patch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/patch"
	"github.com/git-db/git-db/pkg/vcs"
)

// fakeConfig is a minimal in-memory configReaderWriter for exercising
// patch numbering without a real VCS config file.
type fakeConfig struct {
	values map[string]string
}

func newFakeConfig() *fakeConfig { return &fakeConfig{values: map[string]string{}} }

func key(section, k string) string { return section + "." + k }

func (c *fakeConfig) ConfigGet(section, k, def string) (string, error) {
	if v, ok := c.values[key(section, k)]; ok {
		return v, nil
	}
	return def, nil
}

func (c *fakeConfig) ConfigSet(section, k, v string) error {
	c.values[key(section, k)] = v
	return nil
}

func (c *fakeConfig) ConfigHas(section, k string) (bool, error) {
	_, ok := c.values[key(section, k)]
	return ok, nil
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestAssemble_AddAndDropTable(t *testing.T) {
	dir := t.TempDir()
	repo, err := vcs.Init(dir)
	require.NoError(t, err)

	require.NoError(t, repo.CheckoutOrphan("database/mydb"))
	writeFile(t, dir, "mydb/structure/public/tables/keep.sql", "CREATE TABLE public.keep (id int);\n")
	writeFile(t, dir, "mydb/structure/public/tables/old.sql", "CREATE TABLE public.old (id int);\n")
	require.NoError(t, repo.AddAllAndCommit("target state"))
	targetCommit, err := repo.CommitOf("database/mydb")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "mydb/structure/public/tables/old.sql")))
	writeFile(t, dir, "mydb/structure/public/tables/new.sql", "CREATE TABLE public.new (id int);\n")
	require.NoError(t, repo.AddAllAndCommit("active state"))

	cfg := newFakeConfig()
	result, err := patch.Assemble(context.Background(), repo, cfg, dir,
		targetCommit, "database/mydb", "database/mydb", false,
		[]string{"mydb"}, map[string]*ledger.Ledger{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Number)
	assert.Equal(t, "patch_1", result.Name)
	assert.Contains(t, result.Databases, "mydb")

	content, err := os.ReadFile(filepath.Join(result.Dir, "mydb.sql"))
	require.NoError(t, err)
	text := string(content)

	dropIdx := indexOf(text, "DROP TABLE IF EXISTS public.old;")
	newIdx := indexOf(text, "CREATE TABLE public.new")
	require.GreaterOrEqual(t, dropIdx, 0)
	require.GreaterOrEqual(t, newIdx, 0)
	assert.Less(t, dropIdx, newIdx, "deletes must precede new entries")
}

func TestAssemble_NothingToPatch(t *testing.T) {
	dir := t.TempDir()
	repo, err := vcs.Init(dir)
	require.NoError(t, err)

	require.NoError(t, repo.CheckoutOrphan("database/mydb"))
	writeFile(t, dir, "mydb/structure/public/tables/keep.sql", "CREATE TABLE public.keep (id int);\n")
	require.NoError(t, repo.AddAllAndCommit("target state"))

	cfg := newFakeConfig()
	_, err = patch.Assemble(context.Background(), repo, cfg, dir,
		"database/mydb", "database/mydb", "database/mydb", false,
		[]string{"mydb"}, map[string]*ledger.Ledger{})
	assert.ErrorIs(t, err, patch.ErrNothingToPatch)
}

func TestAssemble_OverwriteKeepsNumber(t *testing.T) {
	dir := t.TempDir()
	repo, err := vcs.Init(dir)
	require.NoError(t, err)

	require.NoError(t, repo.CheckoutOrphan("database/mydb"))
	writeFile(t, dir, "mydb/structure/public/tables/keep.sql", "CREATE TABLE public.keep (id int);\n")
	require.NoError(t, repo.AddAllAndCommit("target state"))
	targetCommit, err := repo.CommitOf("database/mydb")
	require.NoError(t, err)

	writeFile(t, dir, "mydb/structure/public/tables/new.sql", "CREATE TABLE public.new (id int);\n")
	require.NoError(t, repo.AddAllAndCommit("active state"))

	cfg := newFakeConfig()
	first, err := patch.Assemble(context.Background(), repo, cfg, dir,
		targetCommit, "database/mydb", "database/mydb", false,
		[]string{"mydb"}, map[string]*ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Number)

	second, err := patch.Assemble(context.Background(), repo, cfg, dir,
		targetCommit, "database/mydb", "database/mydb", true,
		[]string{"mydb"}, map[string]*ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Number)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
