// SPDX-License-Identifier: Apache-2.0

package differ_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/git-db/git-db/pkg/differ"
)

func TestDiff_Identity(t *testing.T) {
	ddl := "CREATE TABLE s.t (id int, name text);"
	assert.Equal(t, "", differ.Diff(ddl, ddl, "s", "t"))
}

func TestDiff_AddColumn(t *testing.T) {
	target := "CREATE TABLE s.t (id int);"
	current := "CREATE TABLE s.t (id int, name text);"

	assert.Equal(t,
		"ALTER TABLE s.t\n\tADD COLUMN IF NOT EXISTS name text;\n\n",
		differ.Diff(target, current, "s", "t"))
}

func TestDiff_DropColumn(t *testing.T) {
	target := "CREATE TABLE s.t (id int, name text);"
	current := "CREATE TABLE s.t (id int);"

	assert.Equal(t,
		"ALTER TABLE s.t\n\tDROP COLUMN IF EXISTS name;\n\n",
		differ.Diff(target, current, "s", "t"))
}

func TestDiff_TypeChange(t *testing.T) {
	target := "CREATE TABLE s.t (id int);"
	current := "CREATE TABLE s.t (id bigint);"

	assert.Equal(t,
		"ALTER TABLE s.t\n\tDROP COLUMN IF EXISTS id,\n\tADD COLUMN IF NOT EXISTS id bigint;\n\n",
		differ.Diff(target, current, "s", "t"))
}

func TestDiff_NoCreateTableOnEitherSide_PassthroughOnly(t *testing.T) {
	target := "ALTER TABLE s.t OWNER TO postgres;"
	current := "ALTER TABLE s.t OWNER TO someone_else;"

	assert.Equal(t, "ALTER TABLE s.t OWNER TO someone_else;\n", differ.Diff(target, current, "s", "t"))
}

func TestDiff_MissingCreateTableOnOneSide_SkipsColumnDiff(t *testing.T) {
	target := "-- no create table here\nALTER TABLE s.t OWNER TO postgres;"
	current := "CREATE TABLE s.t (id int);"

	assert.Equal(t, "", differ.Diff(target, current, "s", "t"))
}

func TestDiff_PassthroughContainment(t *testing.T) {
	target := `CREATE TABLE s.t (id int);
ALTER TABLE s.t OWNER TO postgres;`
	current := `CREATE TABLE s.t (id int);
ALTER TABLE s.t OWNER TO postgres;
GRANT SELECT ON s.t TO readonly;`

	assert.Equal(t, "GRANT SELECT ON s.t TO readonly;\n", differ.Diff(target, current, "s", "t"))
}

func TestDiff_PassthroughIgnoresWhitespaceOnlyDifferences(t *testing.T) {
	target := "CREATE TABLE s.t (id int);\nALTER TABLE   s.t   OWNER TO postgres;"
	current := "CREATE TABLE s.t (id int);\nALTER TABLE s.t OWNER TO postgres;"

	assert.Equal(t, "", differ.Diff(target, current, "s", "t"))
}

func TestDiff_LineCommentsStripped(t *testing.T) {
	target := "-- a comment\nCREATE TABLE s.t (id int);"
	current := "CREATE TABLE s.t (id int);"

	assert.Equal(t, "", differ.Diff(target, current, "s", "t"))
}

func TestDiff_MultilineCreateTable(t *testing.T) {
	target := "CREATE TABLE s.t (\n  id int\n);"
	current := "CREATE TABLE s.t (\n  id int,\n  name text\n);"

	assert.Equal(t,
		"ALTER TABLE s.t\n\tADD COLUMN IF NOT EXISTS name text;\n\n",
		differ.Diff(target, current, "s", "t"))
}

func TestDiff_NoChangeReturnsEmptyString(t *testing.T) {
	target := "CREATE TABLE s.t (id int);\n"
	current := "CREATE TABLE s.t (id int);\n"

	assert.Equal(t, "", differ.Diff(target, current, "s", "t"))
}
