// SPDX-License-Identifier: Apache-2.0

package cmd

import "errors"

var (
	errNotInitialized = errors.New("git-db repository not initialized, run 'git-db init' to initialize")
	errNoActiveBranch = errors.New("could not resolve the currently checked out branch")
	errUserAbort      = errors.New("aborted")
)
