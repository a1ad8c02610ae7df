package lesson

// StepType discriminates how a step is driven.
type StepType string

const (
	StepVoice       StepType = "voice"
	StepDemo        StepType = "demo"
	StepInteractive StepType = "interactive"
)

// ValidationType selects the rule applied to the output buffer.
type ValidationType string

const (
	// ValidateOutputContains passes when the raw buffer contains the value.
	ValidateOutputContains ValidationType = "output-contains"
	// ValidateOutputExact passes when the trimmed buffer equals the trimmed value.
	ValidateOutputExact ValidationType = "output-exact"
	// ValidateCommandMatch currently shares output-contains semantics. It is
	// kept as a distinct rule kind because lesson files use both names; the
	// original intent (match typed input rather than output) is unclear.
	ValidateCommandMatch ValidationType = "command-match"
)

// Voice is a spoken directive: what to say and which persona says it.
type Voice struct {
	Text    string `yaml:"text" json:"text"`
	Speaker string `yaml:"speaker" json:"speaker"`
}

// Terminal is a terminal directive for demo steps.
type Terminal struct {
	Command     string `yaml:"command" json:"command"`
	DemoDelayMs int    `yaml:"demoDelay" json:"demoDelay,omitempty"`
}

// Validation is the rule an interactive step is checked against.
type Validation struct {
	Type  ValidationType `yaml:"type" json:"type"`
	Value string         `yaml:"value" json:"value"`
}

// Step is one unit of lesson content.
type Step struct {
	ID         string      `yaml:"id" json:"id"`
	Type       StepType    `yaml:"type" json:"type"`
	Voice      *Voice      `yaml:"voice,omitempty" json:"voice,omitempty"`
	Terminal   *Terminal   `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Validation *Validation `yaml:"validation,omitempty" json:"validation,omitempty"`
	Hints      []string    `yaml:"hints,omitempty" json:"hints,omitempty"`
	OnSuccess  string      `yaml:"onSuccess,omitempty" json:"onSuccess,omitempty"`
}

// Lesson is an ordered list of steps a learner works through.
type Lesson struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Level       string `yaml:"level" json:"level"`
	Duration    string `yaml:"duration" json:"duration"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Summary is the listing representation of a lesson.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Level       string `json:"level"`
	Duration    string `json:"duration"`
	Description string `json:"description,omitempty"`
	StepCount   int    `json:"stepCount"`
}

// Summary returns the listing representation.
func (l *Lesson) Summary() Summary {
	return Summary{
		ID:          l.ID,
		Title:       l.Title,
		Level:       l.Level,
		Duration:    l.Duration,
		Description: l.Description,
		StepCount:   len(l.Steps),
	}
}
