// Package server wires configuration, the terminal pool, the synthesis
// queue, the lesson catalog, the session registry and the tutor engine
// into one HTTP server.
package server
