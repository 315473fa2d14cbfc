// SPDX-License-Identifier: Apache-2.0

package materialize_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/pkg/materialize"
	"github.com/git-db/git-db/pkg/vcs"
)

func TestMaterialize_RefusesDirtyTree(t *testing.T) {
	dir := t.TempDir()
	repo, err := vcs.Init(dir)
	require.NoError(t, err)

	require.NoError(t, repo.CheckoutOrphan("database/mydb"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0o644))

	_, err = materialize.Materialize(context.Background(), repo, dir, "database", gitdbconfig.Remote{
		Name: "mydb", URL: "localhost", Port: "5432",
	})
	assert.ErrorIs(t, err, materialize.ErrDirtyTree)
}
