package tutor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellcoach/backend/internal/domain/lesson"
	"github.com/shellcoach/backend/internal/infrastructure/logging"
	"github.com/shellcoach/backend/internal/shared/id"
)

type fakeCatalog map[string]*lesson.Lesson

func (c fakeCatalog) Get(lessonID string) (*lesson.Lesson, bool) {
	l, ok := c[lessonID]
	return l, ok
}

type speakCall struct {
	Text    string
	Persona string
}

type fakeSpeaker struct {
	mu    sync.Mutex
	fail  bool
	delay time.Duration
	calls []speakCall
}

func (s *fakeSpeaker) Speak(ctx context.Context, text, persona string) SpeechResult {
	s.mu.Lock()
	s.calls = append(s.calls, speakCall{Text: text, Persona: persona})
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return SpeechResult{Success: false, Duration: 2}
		}
	}
	if s.fail {
		return SpeechResult{Success: false, Duration: 2}
	}
	return SpeechResult{Success: true, AudioURL: "/audio/voice_test.mp3", Duration: 1}
}

func (s *fakeSpeaker) spoken() []speakCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]speakCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type fakeTypist struct {
	mu      sync.Mutex
	missing bool
	fail    bool
	typed   []string
}

func (f *fakeTypist) Exists(handleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing
}

func (f *fakeTypist) DemoType(ctx context.Context, handleID, text string, delay time.Duration, pressEnter bool) bool {
	f.mu.Lock()
	f.typed = append(f.typed, text)
	fail := f.fail
	f.mu.Unlock()
	return !fail
}

type emitted struct {
	SessionID id.SessionID
	Event     string
	Payload   interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(sessionID id.SessionID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{SessionID: sessionID, Event: event, Payload: payload})
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEmitter) count(event string) int {
	n := 0
	for _, e := range f.all() {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) waitFor(t *testing.T, event string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.count(event) > 0
	}, 2*time.Second, 5*time.Millisecond, "expected event %q", event)
}

func newTestEngine(catalog fakeCatalog) (*Engine, *fakeSpeaker, *fakeTypist, *fakeEmitter) {
	speaker := &fakeSpeaker{}
	typist := &fakeTypist{}
	emitter := &fakeEmitter{}
	engine := NewEngine(catalog, speaker, typist, emitter, logging.NewNop()).
		WithPacing(time.Millisecond, time.Millisecond)
	return engine, speaker, typist, emitter
}

func voiceLesson() *lesson.Lesson {
	return &lesson.Lesson{
		ID:    "intro",
		Title: "Introduction",
		Steps: []lesson.Step{
			{ID: "s1", Type: lesson.StepVoice, Voice: &lesson.Voice{Text: "Welcome", Speaker: "Elisabeth"}},
			{ID: "s2", Type: lesson.StepVoice, Voice: &lesson.Voice{Text: "Let us begin", Speaker: "Finn"}},
		},
	}
}

func interactiveLesson(v *lesson.Validation, hints []string) *lesson.Lesson {
	return &lesson.Lesson{
		ID:    "practice",
		Title: "Practice",
		Steps: []lesson.Step{
			{
				ID:         "try",
				Type:       lesson.StepInteractive,
				Voice:      &lesson.Voice{Text: "Try it yourself", Speaker: "Elisabeth"},
				Validation: v,
				Hints:      hints,
				OnSuccess:  "Well done",
			},
		},
	}
}

func TestStartUnknownLesson(t *testing.T) {
	engine, _, _, _ := newTestEngine(fakeCatalog{})

	res := engine.Start(id.NewSessionID(), "nope", "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "nope")
	assert.Equal(t, 0, engine.Count())
}

func TestVoiceLessonOrdering(t *testing.T) {
	engine, speaker, _, emitter := newTestEngine(fakeCatalog{"intro": voiceLesson()})
	sid := id.NewSessionID()

	res := engine.Start(sid, "intro", "")
	require.True(t, res.Success)
	emitter.waitFor(t, EventComplete)

	// One step event per step, in order, then exactly one completion.
	var stepIndexes []int
	for _, e := range emitter.all() {
		if e.Event == EventStep {
			stepIndexes = append(stepIndexes, e.Payload.(StepPayload).StepIndex)
		}
	}
	assert.Equal(t, []int{0, 1}, stepIndexes)
	assert.Equal(t, 1, emitter.count(EventComplete))
	assert.Equal(t, 2, emitter.count(EventVoice))

	spoken := speaker.spoken()
	require.Len(t, spoken, 2)
	assert.Equal(t, "Welcome", spoken[0].Text)
	assert.Equal(t, "Finn", spoken[1].Persona)

	// A completed run leaves no RunContext behind.
	assert.Equal(t, 0, engine.Count())
}

func TestSynthesisFailureStillEmitsVoice(t *testing.T) {
	engine, speaker, _, emitter := newTestEngine(fakeCatalog{"intro": voiceLesson()})
	speaker.fail = true
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "intro", "").Success)
	emitter.waitFor(t, EventComplete)

	// The lesson finishes despite synthesis failing, and every voice line
	// is still announced so the client can show the text.
	assert.Equal(t, 2, emitter.count(EventVoice))
	for _, e := range emitter.all() {
		if e.Event == EventVoice {
			assert.Empty(t, e.Payload.(VoicePayload).AudioURL)
		}
	}
}

func TestInteractiveValidationSuccess(t *testing.T) {
	l := interactiveLesson(&lesson.Validation{Type: lesson.ValidateOutputContains, Value: "hello"}, nil)
	engine, speaker, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	engine.RecordOutput(sid, []byte("$ echo hello\r\nhello\r\n"))
	require.True(t, engine.Validate(sid))

	emitter.waitFor(t, EventComplete)
	assert.Equal(t, 1, emitter.count(EventValidationSuccess))

	// The success message is voiced by the default narrator.
	spoken := speaker.spoken()
	require.NotEmpty(t, spoken)
	last := spoken[len(spoken)-1]
	assert.Equal(t, "Well done", last.Text)
	assert.Equal(t, "Elisabeth", last.Persona)
}

func TestInteractiveValidationFailureKeepsBuffer(t *testing.T) {
	l := interactiveLesson(&lesson.Validation{Type: lesson.ValidateOutputContains, Value: "hello world"},
		[]string{"first hint", "second hint"})
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	engine.RecordOutput(sid, []byte("hello "))
	require.False(t, engine.Validate(sid))
	assert.Equal(t, 1, emitter.count(EventValidationFail))

	for _, e := range emitter.all() {
		if e.Event == EventValidationFail {
			assert.Equal(t, "first hint", e.Payload.(ValidationPayload).Hint)
		}
	}

	// The fail path leaves the buffer intact so later output can complete it.
	engine.RecordOutput(sid, []byte("world"))
	require.True(t, engine.Validate(sid))
	emitter.waitFor(t, EventComplete)
}

func TestValidationRules(t *testing.T) {
	tests := []struct {
		name   string
		rule   lesson.Validation
		buffer string
		want   bool
	}{
		{"contains match", lesson.Validation{Type: lesson.ValidateOutputContains, Value: "abc"}, "xx abc yy", true},
		{"contains miss", lesson.Validation{Type: lesson.ValidateOutputContains, Value: "abc"}, "xx ab yy", false},
		{"exact trims both sides", lesson.Validation{Type: lesson.ValidateOutputExact, Value: "done"}, "  done  ", true},
		{"exact trims value too", lesson.Validation{Type: lesson.ValidateOutputExact, Value: " done "}, "done", true},
		{"exact miss", lesson.Validation{Type: lesson.ValidateOutputExact, Value: "done"}, "done!", false},
		{"command-match behaves as contains", lesson.Validation{Type: lesson.ValidateCommandMatch, Value: "ls -la"}, "$ ls -la\r\n", true},
		{"unknown rule never passes", lesson.Validation{Type: "bogus"}, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(&tt.rule, tt.buffer))
		})
	}
}

func TestValidateWithoutRuleAutoPasses(t *testing.T) {
	l := interactiveLesson(nil, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	require.True(t, engine.Validate(sid))
	emitter.waitFor(t, EventComplete)
	assert.Equal(t, 0, emitter.count(EventValidationSuccess))
}

func TestHintWrapsAround(t *testing.T) {
	l := interactiveLesson(&lesson.Validation{Type: lesson.ValidateOutputContains, Value: "x"},
		[]string{"a", "b", "c"})
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	var got []string
	for i := 0; i < 4; i++ {
		h := engine.Hint(sid)
		require.NotNil(t, h)
		assert.Equal(t, 3, h.Total)
		got = append(got, h.Hint)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestHintWithoutHints(t *testing.T) {
	l := interactiveLesson(nil, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)
	assert.Nil(t, engine.Hint(sid))
}

func TestDemoStepTypesCommand(t *testing.T) {
	l := &lesson.Lesson{
		ID:    "demo",
		Title: "Demo",
		Steps: []lesson.Step{
			{
				ID:       "d1",
				Type:     lesson.StepDemo,
				Terminal: &lesson.Terminal{Command: "ls -la", DemoDelayMs: 1},
			},
		},
	}
	engine, _, typist, emitter := newTestEngine(fakeCatalog{"demo": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "demo", "term_abc").Success)
	emitter.waitFor(t, EventComplete)

	assert.Equal(t, []string{"ls -la"}, typist.typed)
	assert.Equal(t, 1, emitter.count(EventDemoStart))
	assert.Equal(t, 1, emitter.count(EventDemoComplete))
}

func TestDemoStepWithoutTerminalSkipsTyping(t *testing.T) {
	l := &lesson.Lesson{
		ID:    "demo",
		Title: "Demo",
		Steps: []lesson.Step{
			{ID: "d1", Type: lesson.StepDemo, Terminal: &lesson.Terminal{Command: "ls"}},
		},
	}
	engine, _, typist, emitter := newTestEngine(fakeCatalog{"demo": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "demo", "").Success)
	emitter.waitFor(t, EventComplete)

	assert.Empty(t, typist.typed)
	assert.Equal(t, 0, emitter.count(EventDemoStart))
}

func TestDemoTerminalGoneAbortsRun(t *testing.T) {
	l := &lesson.Lesson{
		ID:    "demo",
		Title: "Demo",
		Steps: []lesson.Step{
			{ID: "d1", Type: lesson.StepDemo, Terminal: &lesson.Terminal{Command: "ls"}},
			{ID: "d2", Type: lesson.StepVoice, Voice: &lesson.Voice{Text: "never reached", Speaker: "Elisabeth"}},
		},
	}
	engine, _, typist, emitter := newTestEngine(fakeCatalog{"demo": l})
	typist.missing = true
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "demo", "term_gone").Success)
	emitter.waitFor(t, EventError)

	for _, e := range emitter.all() {
		if e.Event == EventError {
			assert.False(t, e.Payload.(ErrorPayload).Recoverable)
		}
	}

	require.Eventually(t, func() bool { return engine.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, emitter.count(EventComplete))
}

func TestDemoTypeFailureIsRecoverable(t *testing.T) {
	l := &lesson.Lesson{
		ID:    "demo",
		Title: "Demo",
		Steps: []lesson.Step{
			{ID: "d1", Type: lesson.StepDemo, Terminal: &lesson.Terminal{Command: "ls"}},
		},
	}
	engine, _, typist, emitter := newTestEngine(fakeCatalog{"demo": l})
	typist.fail = true
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "demo", "term_abc").Success)
	emitter.waitFor(t, EventComplete)

	require.Equal(t, 1, emitter.count(EventError))
	for _, e := range emitter.all() {
		if e.Event == EventError {
			assert.True(t, e.Payload.(ErrorPayload).Recoverable)
		}
	}
	assert.Equal(t, 0, emitter.count(EventDemoComplete))
}

func TestSkipAdvancesPastInteractiveStep(t *testing.T) {
	l := interactiveLesson(&lesson.Validation{Type: lesson.ValidateOutputContains, Value: "never"}, nil)
	engine, speaker, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	engine.Skip(sid)
	emitter.waitFor(t, EventComplete)

	// A skipped step does not voice its success message.
	for _, c := range speaker.spoken() {
		assert.NotEqual(t, "Well done", c.Text)
	}
}

func TestStopSuppressesLateEvents(t *testing.T) {
	l := interactiveLesson(nil, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	engine.Stop(sid)
	assert.Equal(t, 0, engine.Count())
	before := len(emitter.all())

	// Poking the stopped run produces nothing.
	engine.RecordOutput(sid, []byte("data"))
	assert.False(t, engine.Validate(sid))
	engine.Skip(sid)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, len(emitter.all()))
	assert.Equal(t, 0, emitter.count(EventComplete))
}

func TestStopDuringSynthesis(t *testing.T) {
	engine, speaker, _, emitter := newTestEngine(fakeCatalog{"intro": voiceLesson()})
	speaker.delay = 200 * time.Millisecond
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "intro", "").Success)
	require.Eventually(t, func() bool {
		return len(speaker.spoken()) > 0
	}, 2*time.Second, 2*time.Millisecond)

	engine.Stop(sid)
	time.Sleep(300 * time.Millisecond)

	// The step announcement already went out; the synthesis that resolved
	// after stop must not produce a voice event or advance the run.
	assert.Equal(t, 1, emitter.count(EventStep))
	assert.Equal(t, 0, emitter.count(EventVoice))
	assert.Equal(t, 0, emitter.count(EventComplete))
}

func TestRestartReplacesRun(t *testing.T) {
	l := interactiveLesson(nil, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l, "intro": voiceLesson()})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "").Success)
	emitter.waitFor(t, EventWaitingInput)

	require.True(t, engine.Start(sid, "intro", "").Success)
	emitter.waitFor(t, EventComplete)
	assert.Equal(t, 1, engine.Count()+emitter.count(EventComplete))
}

func TestCrossSessionBufferIsolation(t *testing.T) {
	l := interactiveLesson(&lesson.Validation{Type: lesson.ValidateOutputContains, Value: "secret"}, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sidA := id.NewSessionID()
	sidB := id.NewSessionID()

	require.True(t, engine.Start(sidA, "practice", "").Success)
	require.True(t, engine.Start(sidB, "practice", "").Success)
	require.Eventually(t, func() bool {
		return emitter.count(EventWaitingInput) == 2
	}, 2*time.Second, 5*time.Millisecond)

	engine.RecordOutput(sidA, []byte("secret"))

	// B saw none of A's output.
	assert.False(t, engine.Validate(sidB))
	assert.True(t, engine.Validate(sidA))
}

func TestUnknownSessionNoOps(t *testing.T) {
	engine, _, _, _ := newTestEngine(fakeCatalog{})
	sid := id.NewSessionID()

	assert.False(t, engine.Validate(sid))
	assert.Nil(t, engine.Hint(sid))
	engine.Skip(sid)
	engine.Stop(sid)
	engine.RecordOutput(sid, []byte("x"))

	_, ok := engine.StateOf(sid)
	assert.False(t, ok)
}

func TestSnapshotTracksProgress(t *testing.T) {
	l := interactiveLesson(nil, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})
	sid := id.NewSessionID()

	require.True(t, engine.Start(sid, "practice", "term_x").Success)
	emitter.waitFor(t, EventWaitingInput)

	info, ok := engine.Snapshot(sid)
	require.True(t, ok)
	assert.Equal(t, "practice", info.LessonID)
	assert.Equal(t, 0, info.StepIndex)
	assert.Equal(t, 1, info.TotalSteps)
	assert.Equal(t, StateWaitingInput, info.State)
	assert.Equal(t, "term_x", info.TerminalID)
}

func TestStopAll(t *testing.T) {
	l := interactiveLesson(nil, nil)
	engine, _, _, emitter := newTestEngine(fakeCatalog{"practice": l})

	for i := 0; i < 3; i++ {
		require.True(t, engine.Start(id.NewSessionID(), "practice", "").Success)
	}
	require.Eventually(t, func() bool {
		return emitter.count(EventWaitingInput) == 3
	}, 2*time.Second, 5*time.Millisecond)

	engine.StopAll()
	assert.Equal(t, 0, engine.Count())
}
