package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/infrastructure/logging"
	"github.com/shellcoach/backend/internal/shared/id"
)

const (
	defaultCols        = 80
	defaultRows        = 24
	defaultDemoDelay   = 75 * time.Millisecond
	outputChanCapacity = 256
)

// Config defines process pool behavior.
type Config struct {
	Shell         string        // empty means $SHELL, then /bin/bash
	IdleTimeout   time.Duration // handle lifetime without activity
	SweepInterval time.Duration // reaper cadence
	DemoDelay     time.Duration // per-character demo typing delay
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		DemoDelay:     defaultDemoDelay,
	}
}

// HandleInfo is the public representation of a handle.
type HandleInfo struct {
	ID           string    `json:"id"`
	Cols         int       `json:"cols"`
	Rows         int       `json:"rows"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

type handle struct {
	id        string
	shell     string
	startedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	output chan []byte
	exit   chan int

	mu           sync.Mutex
	cols         int
	rows         int
	lastActivity time.Time
	closed       bool
}

func (h *handle) touch() {
	h.mu.Lock()
	h.lastActivity = time.Now()
	h.mu.Unlock()
}

func (h *handle) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

// markClosed flags the handle and closes the PTY, unblocking the pump.
// Returns false if already closed.
func (h *handle) markClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	h.ptmx.Close()
	return true
}

// Pool owns all interactive shell processes.
type Pool struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.RWMutex
	handles map[string]*handle

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPool creates a process pool and starts its idle reaper.
func NewPool(cfg Config, logger *logging.Logger) *Pool {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.DemoDelay <= 0 {
		cfg.DemoDelay = defaultDemoDelay
	}

	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		handles: make(map[string]*handle),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.reap()
	return p
}

// Create spawns a login shell with the given terminal geometry and returns
// its handle ID. Spawn failure is returned to the caller; there is no retry.
func (p *Pool) Create(cols, rows int) (string, error) {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	shell := p.cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	workDir := os.Getenv("HOME")
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	cmd := exec.Command(shell, "--login")
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start PTY: %w", err)
	}

	h := &handle{
		id:           id.NewTerminalID().String(),
		shell:        shell,
		startedAt:    time.Now(),
		cmd:          cmd,
		ptmx:         ptmx,
		output:       make(chan []byte, outputChanCapacity),
		exit:         make(chan int, 1),
		cols:         cols,
		rows:         rows,
		lastActivity: time.Now(),
	}

	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	go p.pump(h)

	p.logger.Info("Terminal created",
		zap.String("handle", h.id),
		zap.String("shell", shell),
		zap.Int("cols", cols),
		zap.Int("rows", rows),
	)
	return h.id, nil
}

// pump reads PTY output into the handle's channel until the process exits,
// then delivers the exit code and removes the handle.
func (p *Pool) pump(h *handle) {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.touch()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case h.output <- chunk:
			default:
				// Consumer lagging; drop rather than block the shell.
			}
		}
		if err != nil {
			break
		}
	}

	code := 0
	if err := h.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	h.markClosed()

	p.mu.Lock()
	delete(p.handles, h.id)
	p.mu.Unlock()

	h.exit <- code
	close(h.exit)
	close(h.output)

	p.logger.Info("Terminal exited",
		zap.String("handle", h.id),
		zap.Int("code", code),
	)
}

// Output returns the handle's output channel. The channel is closed when
// the handle is destroyed or its process exits.
func (p *Pool) Output(handleID string) (<-chan []byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handles[handleID]
	if !ok {
		return nil, false
	}
	return h.output, true
}

// Exit returns a channel that delivers the handle's exit code exactly once.
func (p *Pool) Exit(handleID string) (<-chan int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handles[handleID]
	if !ok {
		return nil, false
	}
	return h.exit, true
}

// Write forwards raw bytes to the shell's input. Returns false for an
// unknown or closed handle.
func (p *Pool) Write(handleID string, data []byte) bool {
	p.mu.RLock()
	h, ok := p.handles[handleID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	_, err := h.ptmx.Write(data)
	h.lastActivity = time.Now()
	h.mu.Unlock()

	return err == nil
}

// Resize propagates terminal geometry changes.
func (p *Pool) Resize(handleID string, cols, rows int) bool {
	p.mu.RLock()
	h, ok := p.handles[handleID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.cols = cols
	h.rows = rows
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}) == nil
}

// Destroy terminates the process and removes the handle. The pump goroutine
// observes the closed PTY and delivers the exit event.
func (p *Pool) Destroy(handleID string) bool {
	p.mu.Lock()
	h, ok := p.handles[handleID]
	if ok {
		delete(p.handles, handleID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	if h.markClosed() && h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
	p.logger.Info("Terminal destroyed", zap.String("handle", handleID))
	return true
}

// Exists reports whether a handle is live.
func (p *Pool) Exists(handleID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.handles[handleID]
	return ok
}

// Count returns the number of live handles.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Get returns public info for a handle.
func (p *Pool) Get(handleID string) (HandleInfo, bool) {
	p.mu.RLock()
	h, ok := p.handles[handleID]
	p.mu.RUnlock()
	if !ok {
		return HandleInfo{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return HandleInfo{
		ID:           h.id,
		Cols:         h.cols,
		Rows:         h.rows,
		StartedAt:    h.startedAt,
		LastActivity: h.lastActivity,
	}, true
}

// DemoType writes text one character at a time with a fixed inter-character
// delay, optionally followed by an enter keystroke after an extra pause.
// Returns false if the handle vanishes mid-typing or ctx is canceled.
func (p *Pool) DemoType(ctx context.Context, handleID, text string, delay time.Duration, pressEnter bool) bool {
	if delay <= 0 {
		delay = p.cfg.DemoDelay
	}

	for _, r := range text {
		if !p.Write(handleID, []byte(string(r))) {
			return false
		}
		if !sleepCtx(ctx, delay) {
			return false
		}
	}

	if pressEnter {
		if !sleepCtx(ctx, 2*delay) {
			return false
		}
		return p.Write(handleID, []byte("\r"))
	}
	return true
}

// ExecuteCommand writes a command followed by enter, with no typing animation.
func (p *Pool) ExecuteCommand(handleID, command string) bool {
	return p.Write(handleID, []byte(command+"\r"))
}

// reap destroys handles idle past the configured timeout.
func (p *Pool) reap() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.cfg.IdleTimeout)

			p.mu.RLock()
			var idle []string
			for hid, h := range p.handles {
				if h.idleSince().Before(cutoff) {
					idle = append(idle, hid)
				}
			}
			p.mu.RUnlock()

			for _, hid := range idle {
				p.logger.Info("Reaping idle terminal", zap.String("handle", hid))
				p.Destroy(hid)
			}
		case <-p.stop:
			return
		}
	}
}

// Shutdown stops the reaper and destroys all handles.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done

	p.mu.RLock()
	ids := make([]string, 0, len(p.handles))
	for hid := range p.handles {
		ids = append(ids, hid)
	}
	p.mu.RUnlock()

	for _, hid := range ids {
		p.Destroy(hid)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
