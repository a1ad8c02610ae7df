// Package terminal provides the interactive shell process pool.
//
// Each handle wraps a login shell behind a PTY (pseudo-terminal). Output is
// exposed as a per-handle channel registered at creation and closed at
// destruction, so consumers never filter a shared stream. A background
// reaper destroys handles that have been idle past the configured timeout.
//
// Demo mode types a command character by character with a fixed delay to
// simulate a human typing, used by demo-kind lesson steps.
package terminal
