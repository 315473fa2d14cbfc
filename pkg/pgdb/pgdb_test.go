// SPDX-License-Identifier: Apache-2.0

package pgdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-db/git-db/pkg/pgdb"
	"github.com/git-db/git-db/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestListSchemasAndTables(t *testing.T) {
	testutils.WithPgdbConnToContainer(t, func(conn *pgdb.Conn, dbName string) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, "CREATE SCHEMA widgets")
		require.NoError(t, err)
		_, err = conn.ExecContext(ctx, "CREATE TABLE widgets.gadgets (id int)")
		require.NoError(t, err)
		_, err = conn.ExecContext(ctx, "CREATE TABLE widgets.aardvarks (id int)")
		require.NoError(t, err)

		schemas, err := conn.ListSchemas(ctx)
		require.NoError(t, err)
		assert.Contains(t, schemas, "widgets")
		assert.Contains(t, schemas, "public")
		assert.NotContains(t, schemas, "pg_catalog")
		assert.NotContains(t, schemas, "information_schema")

		tables, err := conn.ListTables(ctx, "widgets")
		require.NoError(t, err)
		assert.Equal(t, []string{"aardvarks", "gadgets"}, tables)
	})
}

func TestListDatabases_ExcludesTemplates(t *testing.T) {
	testutils.WithPgdbConnToContainer(t, func(conn *pgdb.Conn, dbName string) {
		ctx := context.Background()

		databases, err := conn.ListDatabases(ctx)
		require.NoError(t, err)
		assert.Contains(t, databases, dbName)
		assert.NotContains(t, databases, "template0")
		assert.NotContains(t, databases, "template1")
	})
}
