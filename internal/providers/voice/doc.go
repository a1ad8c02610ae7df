// Package voice provides speech synthesis through the edge-tts CLI.
//
// Requests are processed by a single worker goroutine, strict FIFO across
// all sessions: one synthesis runs globally at any time. A slow synthesis
// therefore delays every other session's voice playback; that serialization
// is deliberate and is the system's cross-session backpressure point.
//
// Speak never returns an error. Failures (missing tool, timeout, non-zero
// exit) resolve as Result{Success: false} with a short fallback duration so
// lessons continue silently instead of halting.
package voice
