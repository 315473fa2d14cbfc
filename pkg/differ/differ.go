// SPDX-License-Identifier: Apache-2.0

// Package differ is the Table Differ (C4), the algorithmic core of git-db.
// It compares two versions of a single table's DDL dump — the tracked
// baseline and the working tree's current version — and produces the SQL
// fragment needed to bring the baseline's structure in line with the
// current one.
//
// The differ is deliberately naive: it splits on `;` rather than parsing
// SQL, and classifies statements with a regular expression rather than an
// AST. This mirrors the documented behavior of the system it replaces and
// must not be "fixed" by reaching for a real parser — pkg/sqlcheck exists
// precisely so that kind of validation can happen elsewhere, as an
// assertion rather than as part of this algorithm.
package differ

import (
	"fmt"
	"regexp"
	"strings"
)

var lineCommentRe = regexp.MustCompile(`(?m)^\s*--.*(?:\n|$)`)

// Diff compares target (the tracked baseline) against current (the
// working tree) for the table identified by schema.table, and returns the
// SQL fragment needed to converge target's structure onto current's. It
// returns the empty string when there is nothing to do.
func Diff(target, current, schema, table string) string {
	targetStmts := splitStatements(stripLineComments(target))
	currentStmts := splitStatements(stripLineComments(current))

	createRe := createTableRegexp(schema, table)

	targetCreate, targetRemaining := classify(targetStmts, createRe)
	currentCreate, currentRemaining := classify(currentStmts, createRe)

	var alter string
	if targetCreate != nil && currentCreate != nil {
		alter = alterTableEnvelope(schema, table, *targetCreate, *currentCreate)
	}

	pass := passthrough(targetRemaining, currentRemaining)

	// alter, when non-empty, already ends in a blank line ("...;\n\n"),
	// which is the separator the spec calls for between the two halves.
	return alter + pass
}

// createTableRegexp builds the case-insensitive pattern used to classify a
// statement as the table's CREATE TABLE. The `.` separating schema and
// table is matched literally, not as "any character".
func createTableRegexp(schema, table string) *regexp.Regexp {
	pattern := `(?is)create\s+table\s*` + regexp.QuoteMeta(schema) + `\.` + regexp.QuoteMeta(table) + `\s*\((.*)\)`
	return regexp.MustCompile(pattern)
}

type statement struct {
	original string
	folded   string // lowercased, newline-stripped
}

func splitStatements(text string) []statement {
	parts := strings.Split(text, ";")
	stmts := make([]statement, 0, len(parts))
	for _, p := range parts {
		stmts = append(stmts, statement{
			original: p,
			folded:   strings.ToLower(strings.ReplaceAll(p, "\n", "")),
		})
	}
	return stmts
}

func stripLineComments(text string) string {
	return lineCommentRe.ReplaceAllString(text, "")
}

// classify scans stmts in order and returns the column-list region of the
// first statement matching createRe, plus every other statement
// (including any later ones that would also match) as "remaining".
func classify(stmts []statement, createRe *regexp.Regexp) (*string, []statement) {
	var create *string
	var remaining []statement

	for _, s := range stmts {
		if create == nil {
			if m := createRe.FindStringSubmatch(s.folded); m != nil {
				region := m[1]
				create = &region
				continue
			}
		}
		remaining = append(remaining, s)
	}

	return create, remaining
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func splitColumns(region string) []string {
	return strings.Split(region, ",")
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

// alterTableEnvelope runs the column-set diff and, if any clause was
// produced, wraps it in the `ALTER TABLE ...;` envelope. Type changes are
// represented as a drop of the old column followed by an add of the new
// one: this tool performs structural convergence, not data-preserving
// migration.
func alterTableEnvelope(schema, table, targetRegion, currentRegion string) string {
	targetCols := splitColumns(targetRegion)
	currentCols := splitColumns(currentRegion)

	currentKeys := make(map[string]bool, len(currentCols))
	for _, c := range currentCols {
		if key := normalizeKey(c); key != "" {
			currentKeys[key] = true
		}
	}
	targetKeys := make(map[string]bool, len(targetCols))
	for _, c := range targetCols {
		if key := normalizeKey(c); key != "" {
			targetKeys[key] = true
		}
	}

	var clauses []string

	for _, c := range targetCols {
		key := normalizeKey(c)
		if key == "" || currentKeys[key] {
			continue
		}
		name := firstToken(strings.TrimLeft(c, " \t"))
		clauses = append(clauses, fmt.Sprintf("DROP COLUMN IF EXISTS %s", name))
	}

	for _, c := range currentCols {
		key := normalizeKey(c)
		if key == "" || targetKeys[key] {
			continue
		}
		def := strings.TrimLeft(c, " \t")
		clauses = append(clauses, fmt.Sprintf("ADD COLUMN IF NOT EXISTS %s", def))
	}

	if len(clauses) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s.%s\n", schema, table)
	for _, clause := range clauses {
		b.WriteString("\t")
		b.WriteString(clause)
		b.WriteString(",\n")
	}

	return strings.TrimRight(b.String(), ",\n") + ";\n\n"
}

// passthrough indexes target's remaining statements by a whitespace-
// stripped normalized key, and emits the original text of every current
// remaining statement whose key is non-empty and absent from that index.
func passthrough(targetRemaining, currentRemaining []statement) string {
	index := make(map[string]bool, len(targetRemaining))
	for _, s := range targetRemaining {
		if key := normalizeKey(s.original); key != "" {
			index[key] = true
		}
	}

	var b strings.Builder
	for _, s := range currentRemaining {
		key := normalizeKey(s.original)
		if key == "" || index[key] {
			continue
		}
		b.WriteString(strings.TrimSpace(s.original))
		b.WriteString(";\n")
	}

	return b.String()
}
