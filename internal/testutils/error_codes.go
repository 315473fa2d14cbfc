// SPDX-License-Identifier: Apache-2.0

// Package testutils names the Postgres error codes tests assert against,
// so a test reads "NotNullViolationErrorCode" instead of a bare string.
package testutils

const (
	CheckViolationErrorCode   string = "check_violation"
	FKViolationErrorCode      string = "foreign_key_violation"
	NotNullViolationErrorCode string = "not_null_violation"
	UniqueViolationErrorCode  string = "unique_violation"
)
