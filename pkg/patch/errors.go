// SPDX-License-Identifier: Apache-2.0

package patch

import "errors"

// ErrNotTracked is returned when the active branch tracks no database and
// no default database is configured to fall back to.
var ErrNotTracked = errors.New("branch not tracking any database")

// ErrNothingToPatch is returned when assembly produced no staged content
// and no pending queries; callers should print "Nothing to patch" and
// treat this as a clean no-op, not a failure.
var ErrNothingToPatch = errors.New("nothing to patch")
