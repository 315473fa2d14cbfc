// SPDX-License-Identifier: Apache-2.0

package apply

import "errors"

// ErrDDLApplyFailure wraps a failed patch execution against one database.
// The Applier isolates it: other databases in the same bundle still run.
var ErrDDLApplyFailure = errors.New("applying patch failed")
