// SPDX-License-Identifier: Apache-2.0

// Package log centralizes git-db's use of pterm for long-running command
// feedback, so every command reports progress, success, and failure the
// same way the teacher's `cmd/init.go` does for a single spinner.
package log

import "github.com/pterm/pterm"

// Spinner wraps a running pterm spinner.
type Spinner struct {
	inner *pterm.SpinnerPrinter
}

// StartSpinner starts a spinner with the given text.
func StartSpinner(text string) *Spinner {
	sp, _ := pterm.DefaultSpinner.WithText(text).Start()
	return &Spinner{inner: sp}
}

// Success stops the spinner, reporting success.
func (s *Spinner) Success(text string) {
	s.inner.Success(text)
}

// Fail stops the spinner, reporting failure.
func (s *Spinner) Fail(text string) {
	s.inner.Fail(text)
}

// Warn prints a standalone warning line, for advisory conditions (such as
// a ledger version mismatch) that should not abort the command.
func Warn(text string) {
	pterm.Warning.Println(text)
}

// Info prints a standalone informational line.
func Info(text string) {
	pterm.Info.Println(text)
}
