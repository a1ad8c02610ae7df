package tutor

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/domain/lesson"
	"github.com/shellcoach/backend/internal/infrastructure/logging"
	"github.com/shellcoach/backend/internal/shared/id"
)

// successPersona voices success messages, matching the lesson narrator.
const successPersona = "Elisabeth"

const (
	defaultVoiceUnit  = time.Second
	defaultDemoSettle = 1500 * time.Millisecond
)

// SpeechResult is what the engine needs back from the synthesis queue.
type SpeechResult struct {
	Success  bool
	AudioURL string
	Duration int // seconds
}

// Speaker synthesizes speech. It must never block indefinitely and must
// resolve failures as Success=false rather than erroring.
type Speaker interface {
	Speak(ctx context.Context, text, persona string) SpeechResult
}

// Typist is the slice of the process pool the engine drives.
type Typist interface {
	Exists(handleID string) bool
	DemoType(ctx context.Context, handleID, text string, delay time.Duration, pressEnter bool) bool
}

// Catalog resolves lesson IDs.
type Catalog interface {
	Get(lessonID string) (*lesson.Lesson, bool)
}

// Metrics receives run observations. Implemented by monitoring.
type Metrics interface {
	LessonStarted()
	LessonCompleted()
	Validation(success bool)
}

// Recorder mirrors run progress into the session registry.
type Recorder interface {
	SetState(sessionID id.SessionID, state State)
	SetProgress(sessionID id.SessionID, stepIndex int)
}

// StartResult reports the outcome of Start.
type StartResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HintResult is one hint plus its position in the step's hint list.
type HintResult struct {
	Hint  string `json:"hint"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// RunInfo is a snapshot of a live run.
type RunInfo struct {
	LessonID   string
	StepIndex  int
	TotalSteps int
	State      State
	TerminalID string
}

type advanceSignal struct {
	speakSuccess bool
}

// run is the working state for one active lesson (the RunContext).
// stepIndex, state, hintIndex and buffer are guarded by the engine mutex;
// the rest is set at creation and driver-local.
type run struct {
	sessionID  id.SessionID
	lesson     *lesson.Lesson
	terminalID string
	startedAt  time.Time

	stepIndex int
	state     State
	hintIndex int
	buffer    strings.Builder

	ctx     context.Context
	cancel  context.CancelFunc
	advance chan advanceSignal
	skip    chan struct{}

	// skipped marks that the current step was force-advanced; only the
	// driver goroutine touches it.
	skipped bool
}

// Engine orchestrates lesson runs across all sessions.
type Engine struct {
	catalog Catalog
	speaker Speaker
	typist  Typist
	emitter Emitter
	logger  *logging.Logger

	metrics  Metrics
	recorder Recorder

	voiceUnit  time.Duration // wall time per estimated second of audio
	demoSettle time.Duration // wait after demo typing for output to land

	mu   sync.Mutex
	runs map[id.SessionID]*run
}

// NewEngine creates the engine. All dependencies are injected; tests swap
// in fakes for the speaker and typist.
func NewEngine(catalog Catalog, speaker Speaker, typist Typist, emitter Emitter, logger *logging.Logger) *Engine {
	return &Engine{
		catalog:    catalog,
		speaker:    speaker,
		typist:     typist,
		emitter:    emitter,
		logger:     logger,
		voiceUnit:  defaultVoiceUnit,
		demoSettle: defaultDemoSettle,
		runs:       make(map[id.SessionID]*run),
	}
}

// WithMetrics attaches a metrics sink.
func (e *Engine) WithMetrics(m Metrics) *Engine {
	e.metrics = m
	return e
}

// WithRecorder mirrors run progress into the given recorder.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// WithPacing overrides wait pacing. Tests use sub-millisecond units to run
// lessons at full speed.
func (e *Engine) WithPacing(voiceUnit, demoSettle time.Duration) *Engine {
	e.voiceUnit = voiceUnit
	e.demoSettle = demoSettle
	return e
}

// Start creates a RunContext for the session and begins executing step 0.
// Fails only if the lesson ID is unknown. A session's previous run, if any,
// is stopped first: at most one RunContext per session.
func (e *Engine) Start(sessionID id.SessionID, lessonID, terminalID string) StartResult {
	l, ok := e.catalog.Get(lessonID)
	if !ok {
		return StartResult{Success: false, Error: "lesson not found: " + lessonID}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		sessionID:  sessionID,
		lesson:     l,
		terminalID: terminalID,
		startedAt:  time.Now(),
		state:      StateIdle,
		ctx:        ctx,
		cancel:     cancel,
		advance:    make(chan advanceSignal, 1),
		skip:       make(chan struct{}, 1),
	}

	e.mu.Lock()
	if old, exists := e.runs[sessionID]; exists {
		delete(e.runs, sessionID)
		old.cancel()
	}
	e.runs[sessionID] = r
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.LessonStarted()
	}
	e.logger.Info("Lesson started",
		zap.String("session", sessionID.String()),
		zap.String("lesson", lessonID),
		zap.Int("steps", len(l.Steps)),
	)

	go e.drive(r)
	return StartResult{Success: true}
}

// Stop discards the session's RunContext unconditionally. Unknown sessions
// are a no-op. The driver's pending awaits observe the canceled context and
// bail out without emitting further events.
func (e *Engine) Stop(sessionID id.SessionID) {
	e.mu.Lock()
	r, ok := e.runs[sessionID]
	if ok {
		delete(e.runs, sessionID)
	}
	e.mu.Unlock()

	if ok {
		r.cancel()
		e.logger.Info("Lesson stopped", zap.String("session", sessionID.String()))
	}
}

// StopAll discards every run, for shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.runs = make(map[id.SessionID]*run)
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
}

// Skip force-advances past the current step regardless of validation
// state. Takes effect immediately while the run waits for input or paces a
// voice line; mid-synthesis it applies at the next wait point.
func (e *Engine) Skip(sessionID id.SessionID) {
	e.mu.Lock()
	r, ok := e.runs[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case r.skip <- struct{}{}:
	default:
	}
}

// RecordOutput appends terminal output to the current step's validation
// buffer. Output is only captured while the run waits for input, so stale
// output cannot contaminate a later step.
func (e *Engine) RecordOutput(sessionID id.SessionID, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[sessionID]
	if !ok || r.state != StateWaitingInput {
		return
	}
	r.buffer.Write(data)
}

// Validate tests the accumulated output buffer against the current step's
// rule. Only meaningful while the run waits for input. A step without a
// rule auto-passes. On failure the buffer is preserved for a retry.
func (e *Engine) Validate(sessionID id.SessionID) bool {
	e.mu.Lock()
	r, ok := e.runs[sessionID]
	if !ok || r.state != StateWaitingInput {
		e.mu.Unlock()
		return false
	}

	step := r.lesson.Steps[r.stepIndex]
	stepIndex := r.stepIndex
	if step.Validation == nil {
		e.mu.Unlock()
		e.signalAdvance(r, false)
		return true
	}

	r.state = StateValidating
	buffer := r.buffer.String()
	e.mu.Unlock()
	e.record(sessionID, StateValidating)

	if matches(step.Validation, buffer) {
		if e.metrics != nil {
			e.metrics.Validation(true)
		}
		message := step.OnSuccess
		if message == "" {
			message = "Correct!"
		}
		e.emit(r, EventValidationSuccess, ValidationPayload{Message: message, StepIndex: stepIndex})
		e.signalAdvance(r, true)
		return true
	}

	e.mu.Lock()
	if e.runs[sessionID] == r && r.state == StateValidating {
		r.state = StateWaitingInput
	}
	e.mu.Unlock()
	e.record(sessionID, StateWaitingInput)

	if e.metrics != nil {
		e.metrics.Validation(false)
	}
	payload := ValidationPayload{
		Message:   "Not quite right. Try again or ask for a hint.",
		StepIndex: stepIndex,
	}
	if hint := e.Hint(sessionID); hint != nil {
		payload.Hint = hint.Hint
	}
	e.emit(r, EventValidationFail, payload)
	return false
}

// matches applies a validation rule to the output buffer.
//
// command-match and output-contains are deliberately identical: the rule
// kinds are kept distinct because lesson files use both names, but whether
// command-match was meant to inspect the typed command rather than the
// produced output is unknown.
func matches(v *lesson.Validation, buffer string) bool {
	switch v.Type {
	case lesson.ValidateOutputContains:
		return strings.Contains(buffer, v.Value)
	case lesson.ValidateOutputExact:
		return strings.TrimSpace(buffer) == strings.TrimSpace(v.Value)
	case lesson.ValidateCommandMatch:
		return strings.Contains(buffer, v.Value)
	default:
		return false
	}
}

// Hint returns the hint at the current cursor and advances it circularly.
// Returns nil for unknown sessions or steps without hints.
func (e *Engine) Hint(sessionID id.SessionID) *HintResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[sessionID]
	if !ok || r.stepIndex >= len(r.lesson.Steps) {
		return nil
	}
	hints := r.lesson.Steps[r.stepIndex].Hints
	if len(hints) == 0 {
		return nil
	}

	res := &HintResult{
		Hint:  hints[r.hintIndex],
		Index: r.hintIndex,
		Total: len(hints),
	}
	r.hintIndex = (r.hintIndex + 1) % len(hints)
	return res
}

// Snapshot returns a copy of the run's progress.
func (e *Engine) Snapshot(sessionID id.SessionID) (RunInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[sessionID]
	if !ok {
		return RunInfo{}, false
	}
	return RunInfo{
		LessonID:   r.lesson.ID,
		StepIndex:  r.stepIndex,
		TotalSteps: len(r.lesson.Steps),
		State:      r.state,
		TerminalID: r.terminalID,
	}, true
}

// StateOf returns the run's lifecycle state.
func (e *Engine) StateOf(sessionID id.SessionID) (State, bool) {
	info, ok := e.Snapshot(sessionID)
	return info.State, ok
}

// Count returns the number of active runs.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// drive executes steps sequentially until the lesson completes or the run
// is stopped. It is the single flow of control for its session.
func (e *Engine) drive(r *run) {
	for {
		if r.ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		idx := r.stepIndex
		r.hintIndex = 0
		state := r.state
		e.mu.Unlock()

		if idx >= len(r.lesson.Steps) {
			e.complete(r)
			return
		}

		step := r.lesson.Steps[idx]
		r.skipped = false

		e.emit(r, EventStep, StepPayload{
			StepIndex:  idx,
			TotalSteps: len(r.lesson.Steps),
			Step:       step,
			State:      state,
		})

		if !e.runStep(r, step) {
			return
		}

		e.setState(r, StateStepComplete)
		e.mu.Lock()
		r.stepIndex++
		next := r.stepIndex
		e.mu.Unlock()
		if e.recorder != nil {
			e.recorder.SetProgress(r.sessionID, next)
		}
	}
}

// runStep dispatches on step kind. Returns false when the run is over
// (stopped, or failed unrecoverably); the driver then exits.
func (e *Engine) runStep(r *run, step lesson.Step) bool {
	switch step.Type {
	case lesson.StepVoice:
		if step.Voice != nil {
			if !e.speak(r, step.Voice.Text, step.Voice.Speaker) {
				return false
			}
		}
		return true

	case lesson.StepDemo:
		return e.runDemoStep(r, step)

	case lesson.StepInteractive:
		return e.runInteractiveStep(r, step)

	default:
		e.emit(r, EventError, ErrorPayload{
			Message:     "unknown step type: " + string(step.Type),
			Recoverable: true,
		})
		return true
	}
}

func (e *Engine) runDemoStep(r *run, step lesson.Step) bool {
	if step.Voice != nil {
		if !e.speak(r, step.Voice.Text, step.Voice.Speaker) {
			return false
		}
		if r.skipped {
			return true
		}
	}

	if step.Terminal != nil && r.terminalID != "" {
		if !e.typist.Exists(r.terminalID) {
			// The handle was reaped or destroyed mid-lesson. Terminal
			// failure for this run.
			e.emit(r, EventError, ErrorPayload{
				Message:     "terminal session is gone",
				Recoverable: false,
			})
			e.discard(r)
			return false
		}

		e.setState(r, StateDemoTyping)
		e.emit(r, EventDemoStart, DemoStartPayload{Command: step.Terminal.Command})

		delay := time.Duration(step.Terminal.DemoDelayMs) * time.Millisecond
		typed := e.typist.DemoType(r.ctx, r.terminalID, step.Terminal.Command, delay, true)
		if r.ctx.Err() != nil {
			return false
		}

		if typed {
			e.emit(r, EventDemoComplete, struct{}{})
			r.pause(e.demoSettle)
			if r.ctx.Err() != nil {
				return false
			}
		} else {
			// Policy: a failed demo write is reported but does not abort
			// the run; the step continues without the demonstration.
			e.emit(r, EventError, ErrorPayload{
				Message:     "demo typing failed",
				Recoverable: true,
			})
		}
		if r.skipped {
			return true
		}
	}

	if step.OnSuccess != "" {
		if !e.speak(r, step.OnSuccess, successPersona) {
			return false
		}
	}
	return true
}

func (e *Engine) runInteractiveStep(r *run, step lesson.Step) bool {
	if step.Voice != nil {
		if !e.speak(r, step.Voice.Text, step.Voice.Speaker) {
			return false
		}
		if r.skipped {
			return true
		}
	}

	e.mu.Lock()
	r.buffer.Reset()
	r.state = StateWaitingInput
	e.mu.Unlock()
	e.record(r.sessionID, StateWaitingInput)

	e.emit(r, EventWaitingInput, WaitingPayload{Step: step})

	select {
	case sig := <-r.advance:
		if sig.speakSuccess && step.OnSuccess != "" {
			if !e.speak(r, step.OnSuccess, successPersona) {
				return false
			}
		}
		return true
	case <-r.skip:
		r.skipped = true
		return true
	case <-r.ctx.Done():
		return false
	}
}

// speak synthesizes one line, emits the voice event (even on synthesis
// failure, so the client can show the text), and paces the run by the
// estimated duration. Returns false when the run was stopped meanwhile.
func (e *Engine) speak(r *run, text, persona string) bool {
	e.setState(r, StateVoicePlaying)

	res := e.speaker.Speak(r.ctx, text, persona)
	if r.ctx.Err() != nil {
		return false
	}

	e.emit(r, EventVoice, VoicePayload{
		Text:     text,
		Speaker:  persona,
		AudioURL: res.AudioURL,
		Duration: res.Duration,
	})

	seconds := res.Duration
	if seconds <= 0 {
		seconds = 2
	}
	r.pause(time.Duration(seconds) * e.voiceUnit)
	return r.ctx.Err() == nil
}

// complete finishes a run: exactly one lesson-complete event, then the
// RunContext is discarded.
func (e *Engine) complete(r *run) {
	e.mu.Lock()
	if e.runs[r.sessionID] != r {
		e.mu.Unlock()
		return
	}
	delete(e.runs, r.sessionID)
	r.state = StateLessonComplete
	e.mu.Unlock()
	e.record(r.sessionID, StateLessonComplete)

	if e.metrics != nil {
		e.metrics.LessonCompleted()
	}

	e.emit(r, EventComplete, CompletePayload{
		LessonID:       r.lesson.ID,
		Title:          r.lesson.Title,
		CompletionTime: int(time.Since(r.startedAt).Seconds()),
	})
	e.logger.Info("Lesson complete",
		zap.String("session", r.sessionID.String()),
		zap.String("lesson", r.lesson.ID),
	)
}

// discard removes a run after an unrecoverable failure.
func (e *Engine) discard(r *run) {
	e.mu.Lock()
	if e.runs[r.sessionID] == r {
		delete(e.runs, r.sessionID)
	}
	e.mu.Unlock()
	r.cancel()
	e.record(r.sessionID, StateIdle)
}

func (e *Engine) setState(r *run, state State) {
	e.mu.Lock()
	r.state = state
	e.mu.Unlock()
	e.record(r.sessionID, state)
}

func (e *Engine) record(sessionID id.SessionID, state State) {
	if e.recorder != nil {
		e.recorder.SetState(sessionID, state)
	}
}

// emit delivers an event unless the run has been stopped.
func (e *Engine) emit(r *run, event string, payload interface{}) {
	if r.ctx.Err() != nil {
		return
	}
	e.emitter.Emit(r.sessionID, event, payload)
}

func (e *Engine) signalAdvance(r *run, speakSuccess bool) {
	select {
	case r.advance <- advanceSignal{speakSuccess: speakSuccess}:
	default:
	}
}

// pause waits for d, returning early on skip or stop.
func (r *run) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.skip:
		r.skipped = true
	case <-r.ctx.Done():
	}
}
