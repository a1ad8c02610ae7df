// Package lesson provides the lesson catalog.
//
// Lessons are authored as YAML files, one lesson per file, and loaded once
// at startup. A lesson is an ordered list of steps; each step is voice-only,
// an automated demo, or interactive (waits for learner action). Loaded
// lessons are immutable; the catalog hands out shared pointers.
package lesson
