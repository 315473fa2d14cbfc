// SPDX-License-Identifier: Apache-2.0

package apply_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-db/git-db/internal/gitdbconfig"
	"github.com/git-db/git-db/internal/pqerr"
	errcodes "github.com/git-db/git-db/internal/testutils"
	"github.com/git-db/git-db/pkg/apply"
	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/pgdb"
	"github.com/git-db/git-db/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func remoteFromServerConnStr(t *testing.T) gitdbconfig.Remote {
	t.Helper()
	u, err := url.Parse(testutils.ServerConnStr())
	require.NoError(t, err)
	password, _ := u.User.Password()
	return gitdbconfig.Remote{
		Name:     "test",
		URL:      u.Hostname(),
		Port:     u.Port(),
		User:     u.User.Username(),
		Password: password,
	}
}

func TestApply_RunsBundleAndMarksLedger(t *testing.T) {
	remote := remoteFromServerConnStr(t)

	var dbName string
	testutils.WithPgdbConnToContainer(t, func(_ *pgdb.Conn, name string) {
		dbName = name
	})

	workDir := t.TempDir()
	patchDir := filepath.Join(workDir, "patches", "patch_1")
	require.NoError(t, os.MkdirAll(patchDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(patchDir, dbName+".sql"),
		[]byte("CREATE TABLE widgets (id int);\n"),
		0o644,
	))

	outcomes, err := apply.Apply(context.Background(), patchDir, workDir, remote, "patch_1", "test")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].Applied)
	assert.False(t, outcomes[0].DatabaseCreated)

	conn, err := pgdb.Connect(context.Background(), remote.URL, remote.Port, remote.User, remote.Password, dbName)
	require.NoError(t, err)
	defer conn.Close()

	tables, err := conn.ListTables(context.Background(), "public")
	require.NoError(t, err)
	assert.Contains(t, tables, "widgets")

	l := ledger.New(conn.DB, "test")
	patches, err := l.ListPatches(context.Background())
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.True(t, patches[0].Applied)
	assert.Equal(t, "patch_1", patches[0].Name)
}

func TestApply_CreatesMissingDatabase(t *testing.T) {
	remote := remoteFromServerConnStr(t)
	dbName := "gitdb_apply_missing_test"

	workDir := t.TempDir()
	patchDir := filepath.Join(workDir, "patches", "patch_1")
	require.NoError(t, os.MkdirAll(patchDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(patchDir, dbName+".sql"),
		[]byte("CREATE TABLE widgets (id int);\n"),
		0o644,
	))

	outcomes, err := apply.Apply(context.Background(), patchDir, workDir, remote, "patch_1", "test")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].DatabaseCreated)
	assert.True(t, outcomes[0].Applied)
}

func TestApply_ReportsPostgresErrorCode(t *testing.T) {
	remote := remoteFromServerConnStr(t)

	var dbName string
	testutils.WithPgdbConnToContainer(t, func(_ *pgdb.Conn, name string) {
		dbName = name
	})

	workDir := t.TempDir()
	patchDir := filepath.Join(workDir, "patches", "patch_1")
	require.NoError(t, os.MkdirAll(patchDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(patchDir, dbName+".sql"),
		[]byte("CREATE TABLE widgets (id int NOT NULL); INSERT INTO widgets (id) VALUES (NULL);\n"),
		0o644,
	))

	outcomes, err := apply.Apply(context.Background(), patchDir, workDir, remote, "patch_1", "test")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Error(t, outcomes[0].Err)

	detail, ok := pqerr.Extract(outcomes[0].Err)
	require.True(t, ok)
	assert.Equal(t, errcodes.NotNullViolationErrorCode, detail.Name)
}
