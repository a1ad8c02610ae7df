// Package session provides the learner session registry.
//
// A session maps one client connection to its lesson progress and terminal
// handle. Records are mutated only through registry methods, refreshed on
// every inbound client action, and evicted by a background sweep after the
// configured idle timeout. Destruction is idempotent.
package session
