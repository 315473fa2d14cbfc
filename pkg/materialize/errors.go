// SPDX-License-Identifier: Apache-2.0

package materialize

import "errors"

// ErrDirtyTree is returned when a materialization is attempted against a
// working tree with uncommitted changes. spec.md §4.3 requires this check
// to run before any mutation.
var ErrDirtyTree = errors.New("working tree has uncommitted changes, refusing to materialize")

// ErrDumpFailure wraps a failure dumping or validating a table's DDL.
var ErrDumpFailure = errors.New("failed to materialize table")
