// Package tutor drives lesson runs through their steps.
//
// One Engine serves all sessions. Each started lesson gets a RunContext and
// a dedicated driver goroutine, so a session never executes two steps at
// once while independent sessions run fully in parallel. The driver blocks
// on the synthesis queue and demo typing; Stop cancels the run's context so
// late completions are discarded instead of mutating a dead run.
//
// State machine:
//
//	IDLE → VOICE_PLAYING → DEMO_TYPING → WAITING_INPUT → VALIDATING
//	     → STEP_COMPLETE → ... → LESSON_COMPLETE
//
// with WAITING_INPUT → VALIDATING → WAITING_INPUT looping on failed
// validation, and any state abortable into IDLE via Stop.
package tutor
