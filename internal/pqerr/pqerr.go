// SPDX-License-Identifier: Apache-2.0

// Package pqerr extracts the Postgres error code and message from a
// driver error, for the Applier's per-database failure reporting
// (spec.md §7: "report Postgres error code and message, continue to the
// next database").
package pqerr

import (
	"errors"

	"github.com/lib/pq"
)

// Detail is the Postgres-specific detail behind a failed statement.
type Detail struct {
	Code    string
	Name    string
	Message string
}

// Extract pulls a Detail out of err if it wraps a *pq.Error, and reports
// whether it found one.
func Extract(err error) (Detail, bool) {
	pqErr := &pq.Error{}
	if !errors.As(err, &pqErr) {
		return Detail{}, false
	}
	return Detail{Code: string(pqErr.Code), Name: pqErr.Code.Name(), Message: pqErr.Message}, true
}

// Describe formats err for a user-facing message: the Postgres code and
// message when available, otherwise err's own text.
func Describe(err error) string {
	if d, ok := Extract(err); ok {
		return d.Code + ": " + d.Message
	}
	return err.Error()
}
