package voice

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/infrastructure/logging"
)

// FallbackDuration is the wait applied when synthesis fails, so the lesson
// flow keeps a natural pace without audio.
const FallbackDuration = 2

// bytesPerSecond approximates MP3 at 128kbps for duration estimation.
const bytesPerSecond = 16000

// personaVoices maps persona names to edge-tts voice identifiers.
var personaVoices = map[string]string{
	"Elisabeth": "en-GB-SoniaNeural",
	"Finn":      "nb-NO-FinnNeural",
}

// DefaultPersona is used when a step names no persona or an unknown one.
const DefaultPersona = "Elisabeth"

// Result is the outcome of one synthesis request. Duration is in seconds
// and is an estimate derived from artifact size, not measured playback.
type Result struct {
	Success   bool   `json:"success"`
	AudioPath string `json:"audioPath,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	Duration  int    `json:"duration"`
	Err       string `json:"error,omitempty"`
}

// Runner executes external commands. Injected so tests can fake failures
// and observe serialization.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Config defines synthesis queue behavior.
type Config struct {
	OutputDir       string
	PublicPath      string
	SynthTimeout    time.Duration
	CleanupMaxAge   time.Duration
	CleanupInterval time.Duration // zero disables the periodic cleanup loop
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		OutputDir:       "./public/audio",
		PublicPath:      "/audio",
		SynthTimeout:    30 * time.Second,
		CleanupMaxAge:   time.Hour,
		CleanupInterval: time.Hour,
	}
}

type request struct {
	text    string
	persona string
	result  chan Result
}

// Metrics receives synthesis observations. Implemented by monitoring.
type Metrics interface {
	SynthesisDone(d time.Duration, success bool)
}

// Queue is the single-flight FIFO synthesis pipeline.
type Queue struct {
	cfg     Config
	runner  Runner
	logger  *logging.Logger
	metrics Metrics

	requests chan request
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewQueue creates the queue, ensures the artifact directory exists, and
// starts the worker.
func NewQueue(cfg Config, runner Runner, logger *logging.Logger) *Queue {
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = 30 * time.Second
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Warn("Failed to create audio output dir", zap.String("dir", cfg.OutputDir), zap.Error(err))
	}

	q := &Queue{
		cfg:      cfg,
		runner:   runner,
		logger:   logger,
		requests: make(chan request, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.work()
	return q
}

// WithMetrics attaches a metrics sink.
func (q *Queue) WithMetrics(m Metrics) *Queue {
	q.metrics = m
	return q
}

// Speak enqueues a synthesis request and waits for its result. It never
// returns a Go error: failures come back as Result{Success: false} with the
// fallback duration. If ctx is canceled while waiting, a failed Result is
// returned immediately; any in-flight synthesis finishes in the background.
func (q *Queue) Speak(ctx context.Context, text, persona string) Result {
	req := request{text: text, persona: persona, result: make(chan Result, 1)}

	select {
	case q.requests <- req:
	case <-ctx.Done():
		return Result{Success: false, Duration: FallbackDuration, Err: ctx.Err().Error()}
	case <-q.stop:
		return Result{Success: false, Duration: FallbackDuration, Err: "queue shut down"}
	}

	select {
	case res := <-req.result:
		return res
	case <-ctx.Done():
		return Result{Success: false, Duration: FallbackDuration, Err: ctx.Err().Error()}
	}
}

// Depth returns the number of queued requests, for metrics.
func (q *Queue) Depth() int {
	return len(q.requests)
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		select {
		case req := <-q.requests:
			start := time.Now()
			res := q.synthesize(req.text, req.persona)
			if q.metrics != nil {
				q.metrics.SynthesisDone(time.Since(start), res.Success)
			}
			req.result <- res
		case <-q.stop:
			return
		}
	}
}

func (q *Queue) synthesize(text, persona string) Result {
	voiceName, ok := personaVoices[persona]
	if !ok {
		voiceName = personaVoices[DefaultPersona]
	}

	filename := fmt.Sprintf("voice_%s.mp3", uuid.NewString())
	outputPath := filepath.Join(q.cfg.OutputDir, filename)
	audioURL := q.cfg.PublicPath + "/" + filename

	preview := text
	if len(preview) > 50 {
		preview = preview[:50]
	}
	q.logger.Debug("Synthesizing",
		zap.String("persona", persona),
		zap.String("text", preview),
	)

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.SynthTimeout)
	defer cancel()

	err := q.runner.Run(ctx, "edge-tts",
		"--voice", voiceName,
		"--text", text,
		"--write-media", outputPath,
	)
	if err != nil {
		q.logger.Warn("Synthesis failed", zap.Error(err))
		return Result{Success: false, Duration: FallbackDuration, Err: err.Error()}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		q.logger.Warn("Audio artifact missing after synthesis", zap.String("path", outputPath))
		return Result{Success: false, Duration: FallbackDuration, Err: "audio file was not created"}
	}

	duration := int(math.Ceil(float64(info.Size()) / bytesPerSecond))
	q.logger.Debug("Synthesis complete",
		zap.String("url", audioURL),
		zap.Int("duration_s", duration),
	)

	return Result{
		Success:   true,
		AudioPath: outputPath,
		AudioURL:  audioURL,
		Duration:  duration,
	}
}

// Cleanup deletes voice artifacts older than maxAge and returns how many
// were removed.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	entries, err := os.ReadDir(q.cfg.OutputDir)
	if err != nil {
		q.logger.Warn("Audio cleanup failed", zap.Error(err))
		return 0
	}

	cleaned := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "voice_") || !strings.HasSuffix(name, ".mp3") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(q.cfg.OutputDir, name)) == nil {
			cleaned++
		}
	}

	if cleaned > 0 {
		q.logger.Info("Cleaned up audio artifacts", zap.Int("count", cleaned))
	}
	return cleaned
}

// StartPeriodicCleanup runs Cleanup on the configured interval until
// Shutdown. No-op when the interval is zero.
func (q *Queue) StartPeriodicCleanup() {
	if q.cfg.CleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(q.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Cleanup(q.cfg.CleanupMaxAge)
			case <-q.stop:
				return
			}
		}
	}()
}

// DeleteArtifact removes a previously produced artifact by its public URL.
func (q *Queue) DeleteArtifact(audioURL string) bool {
	name := filepath.Base(audioURL)
	if !strings.HasPrefix(name, "voice_") {
		return false
	}
	return os.Remove(filepath.Join(q.cfg.OutputDir, name)) == nil
}

// CheckAvailability probes whether the edge-tts tool is usable. Diagnostic
// only: the queue operates regardless and degrades per-request.
func (q *Queue) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.runner.Run(ctx, "edge-tts", "--version"); err != nil {
		q.logger.Warn("edge-tts is not available; voice synthesis will fail",
			zap.String("hint", "pip install edge-tts"))
		return false
	}
	return true
}

// ListVoices returns the voices the synthesis tool reports.
func (q *Queue) ListVoices(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := q.runner.Output(ctx, "edge-tts", "--list-voices")
	if err != nil {
		return nil
	}
	var voices []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			voices = append(voices, line)
		}
	}
	return voices
}

// Shutdown stops the worker. Queued requests receive failed results.
func (q *Queue) Shutdown() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done

	for {
		select {
		case req := <-q.requests:
			req.result <- Result{Success: false, Duration: FallbackDuration, Err: "queue shut down"}
		default:
			return
		}
	}
}
