package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/domain/tutor"
	"github.com/shellcoach/backend/internal/infrastructure/logging"
	"github.com/shellcoach/backend/internal/shared/id"
)

// Session is a snapshot of one learner session record.
type Session struct {
	ID           id.SessionID
	ConnectionID string
	TerminalID   string
	ActiveLesson string
	CurrentStep  int
	State        tutor.State
	HintIndex    int
	CreatedAt    time.Time
	StartedAt    time.Time
	LastActivity time.Time
}

// Config defines registry behavior.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Registry maps connections to session records and enforces idle expiry.
type Registry struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[id.SessionID]*Session
	byConn   map[string]id.SessionID

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRegistry creates a registry and starts its idle sweep.
func NewRegistry(cfg Config, logger *logging.Logger) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	r := &Registry{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[id.SessionID]*Session),
		byConn:   make(map[string]id.SessionID),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Create registers a new session for a connection.
func (r *Registry) Create(connectionID string) Session {
	now := time.Now()
	s := &Session{
		ID:           id.NewSessionID(),
		ConnectionID: connectionID,
		State:        tutor.StateIdle,
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.byConn[connectionID] = s.ID
	r.mu.Unlock()

	r.logger.Info("Session created",
		zap.String("session", s.ID.String()),
		zap.String("connection", connectionID),
	)
	return *s
}

// Get returns a snapshot of a session by ID.
func (r *Registry) Get(sessionID id.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// GetByConnection returns a snapshot of the session bound to a connection.
func (r *Registry) GetByConnection(connectionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byConn[connectionID]
	if !ok {
		return Session{}, false
	}
	s, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Touch refreshes the last-activity clock. Unknown IDs are a no-op.
func (r *Registry) Touch(sessionID id.SessionID) {
	r.update(sessionID, func(s *Session) {})
}

// SetTerminal associates a terminal handle with a session.
func (r *Registry) SetTerminal(sessionID id.SessionID, terminalID string) {
	r.update(sessionID, func(s *Session) { s.TerminalID = terminalID })
}

// SetActiveLesson records a lesson start and resets progress fields.
func (r *Registry) SetActiveLesson(sessionID id.SessionID, lessonID string) {
	r.update(sessionID, func(s *Session) {
		s.ActiveLesson = lessonID
		s.CurrentStep = 0
		s.HintIndex = 0
		s.StartedAt = time.Now()
	})
}

// ClearActiveLesson resets all lesson progress for a session.
func (r *Registry) ClearActiveLesson(sessionID id.SessionID) {
	r.update(sessionID, func(s *Session) {
		s.ActiveLesson = ""
		s.CurrentStep = 0
		s.State = tutor.StateIdle
		s.HintIndex = 0
		s.StartedAt = time.Time{}
	})
}

// SetState records the lesson lifecycle state.
func (r *Registry) SetState(sessionID id.SessionID, state tutor.State) {
	r.update(sessionID, func(s *Session) { s.State = state })
}

// SetProgress records the current step index.
func (r *Registry) SetProgress(sessionID id.SessionID, stepIndex int) {
	r.update(sessionID, func(s *Session) { s.CurrentStep = stepIndex })
}

func (r *Registry) update(sessionID id.SessionID, fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	fn(s)
	s.LastActivity = time.Now()
}

// Destroy removes a session and its connection mapping. Idempotent.
func (r *Registry) Destroy(sessionID id.SessionID) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.byConn, s.ConnectionID)
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("Session destroyed", zap.String("session", sessionID.String()))
	}
	return ok
}

// DestroyByConnection removes the session bound to a connection.
func (r *Registry) DestroyByConnection(connectionID string) bool {
	r.mu.RLock()
	sid, ok := r.byConn[connectionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Destroy(sid)
}

// List returns snapshots of all sessions.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// sweep destroys sessions idle past the configured timeout.
func (r *Registry) sweep() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-r.cfg.IdleTimeout)

			r.mu.RLock()
			var idle []id.SessionID
			for sid, s := range r.sessions {
				if s.LastActivity.Before(cutoff) {
					idle = append(idle, sid)
				}
			}
			r.mu.RUnlock()

			for _, sid := range idle {
				r.logger.Info("Reaping idle session", zap.String("session", sid.String()))
				r.Destroy(sid)
			}
		case <-r.stop:
			return
		}
	}
}

// Shutdown stops the sweep and destroys all sessions.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	for _, s := range r.List() {
		r.Destroy(s.ID)
	}
}
