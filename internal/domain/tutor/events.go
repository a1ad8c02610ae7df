package tutor

import (
	"github.com/shellcoach/backend/internal/domain/lesson"
	"github.com/shellcoach/backend/internal/shared/id"
)

// State is the lesson lifecycle state of a run.
type State string

const (
	StateIdle           State = "IDLE"
	StateVoicePlaying   State = "VOICE_PLAYING"
	StateDemoTyping     State = "DEMO_TYPING"
	StateWaitingInput   State = "WAITING_INPUT"
	StateValidating     State = "VALIDATING"
	StateStepComplete   State = "STEP_COMPLETE"
	StateLessonComplete State = "LESSON_COMPLETE"
)

// Event names emitted to the transport layer.
const (
	EventStep              = "lesson-step"
	EventVoice             = "voice-speak"
	EventDemoStart         = "demo-start"
	EventDemoComplete      = "demo-complete"
	EventWaitingInput      = "waiting-input"
	EventValidationSuccess = "validation-success"
	EventValidationFail    = "validation-fail"
	EventComplete          = "lesson-complete"
	EventError             = "lesson-error"
)

// StepPayload announces a new step.
type StepPayload struct {
	StepIndex  int         `json:"stepIndex"`
	TotalSteps int         `json:"totalSteps"`
	Step       lesson.Step `json:"step"`
	State      State       `json:"state"`
}

// VoicePayload carries one spoken line. AudioURL is empty when synthesis
// failed; the client shows the text and stays silent.
type VoicePayload struct {
	Text     string `json:"text"`
	Speaker  string `json:"speaker"`
	AudioURL string `json:"audioUrl,omitempty"`
	Duration int    `json:"duration"`
}

// DemoStartPayload announces automated typing of a command.
type DemoStartPayload struct {
	Command string `json:"command"`
}

// WaitingPayload announces that the run expects learner input.
type WaitingPayload struct {
	Step lesson.Step `json:"step"`
}

// ValidationPayload reports a validation outcome.
type ValidationPayload struct {
	Message   string `json:"message"`
	StepIndex int    `json:"stepIndex"`
	Hint      string `json:"hint,omitempty"`
}

// CompletePayload reports lesson completion.
type CompletePayload struct {
	LessonID       string `json:"lessonId"`
	Title          string `json:"title"`
	CompletionTime int    `json:"completionTimeSeconds"`
}

// ErrorPayload reports a run error. Recoverable errors leave the run alive.
type ErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Emitter delivers events to the transport bound to a session.
type Emitter interface {
	Emit(sessionID id.SessionID, event string, payload interface{})
}
