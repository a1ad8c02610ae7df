// Package ws provides the WebSocket transport for learner sessions.
//
// Each connection gets its own session record. All terminal I/O and lesson
// control flows over the same socket, and tutor events are routed back to
// the connection bound to the session.
//
// Message Types (Client → Server):
//   - create-terminal: Spawn a PTY shell for this session
//   - terminal-input: Keystrokes for the PTY
//   - terminal-resize: New PTY dimensions
//   - terminal-destroy: Tear down the PTY
//   - lesson-start: Begin a lesson run
//   - lesson-hint: Request the next hint
//   - lesson-skip: Force-advance the current step
//   - lesson-stop: Abandon the lesson run
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - session-created: Session ID for this connection
//   - terminal-created: PTY handle ID
//   - terminal-output: Raw PTY output
//   - terminal-exit: Shell exited with code
//   - lesson-step, voice-speak, demo-start, demo-complete, waiting-input,
//     validation-success, validation-fail, lesson-complete, lesson-error:
//     tutor run events
//   - lesson-hint: Hint text with cursor position
//   - pong: Keep-alive reply
//   - error: Request could not be served
//
// Example Usage:
//
//	handler := ws.NewHandler(pool, engine, registry, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws
