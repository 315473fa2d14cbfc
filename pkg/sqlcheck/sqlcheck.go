// SPDX-License-Identifier: Apache-2.0

// Package sqlcheck validates that a dumped table DDL file actually
// contains a parseable CREATE TABLE statement for the expected table,
// using a real Postgres SQL parser rather than the differ's intentionally
// naive splitter. It exists purely as an assertion the Materializer runs
// after dumping a table: it never takes part in the Table Differ (C4),
// whose naive statement-splitting semantics are specified exactly in
// spec.md and must not be altered by this package.
package sqlcheck

import (
	"fmt"
	"strings"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

// ErrNoCreateTable is returned when the dumped DDL does not contain a
// CREATE TABLE statement for the expected table.
var ErrNoCreateTable = fmt.Errorf("dumped DDL does not contain a CREATE TABLE statement")

// ValidateTableDump parses ddl and checks that it contains a CREATE TABLE
// statement for schema.table. A parse error or a missing statement is
// surfaced to the Materializer as a DumpFailure.
func ValidateTableDump(ddl, schema, table string) error {
	tree, err := pgq.Parse(ddl)
	if err != nil {
		return fmt.Errorf("parsing dumped DDL for %s.%s: %w", schema, table, err)
	}

	for _, stmt := range tree.GetStmts() {
		create := stmt.GetStmt().GetCreateStmt()
		if create == nil {
			continue
		}
		rel := create.GetRelation()
		if rel == nil {
			continue
		}
		if !strings.EqualFold(rel.GetRelname(), table) {
			continue
		}
		if rel.GetSchemaname() != "" && !strings.EqualFold(rel.GetSchemaname(), schema) {
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %s.%s", ErrNoCreateTable, schema, table)
}
