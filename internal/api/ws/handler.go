package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/domain/session"
	"github.com/shellcoach/backend/internal/domain/tutor"
	"github.com/shellcoach/backend/internal/infrastructure/logging"
	"github.com/shellcoach/backend/internal/infrastructure/monitoring"
	"github.com/shellcoach/backend/internal/providers/terminal"
	"github.com/shellcoach/backend/internal/shared/id"
)

// validationDelay lets the shell finish echoing command output before the
// buffer is validated.
const validationDelay = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser origin is enforced by the CORS layer
	},
}

// Message is the inbound client frame.
type Message struct {
	Type       string `json:"type"`
	LessonID   string `json:"lessonId,omitempty"`
	TerminalID string `json:"terminalId,omitempty"`
	Data       string `json:"data,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
}

// envelope is the outbound server frame.
type envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// client is one live connection with serialized writes.
type client struct {
	conn      *websocket.Conn
	sessionID id.SessionID
	mu        sync.Mutex
}

func (c *client) send(event string, payload interface{}) error {
	data, err := sonic.Marshal(envelope{
		Type:      event,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Handler manages WebSocket connections and routes tutor events back to
// the session that owns them. It satisfies the engine's Emitter.
type Handler struct {
	pool     *terminal.Pool
	engine   *tutor.Engine
	registry *session.Registry
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu      sync.RWMutex
	clients map[id.SessionID]*client
}

// NewHandler creates a new WebSocket handler.
func NewHandler(pool *terminal.Pool, engine *tutor.Engine, registry *session.Registry, logger *logging.Logger) *Handler {
	return &Handler{
		pool:     pool,
		engine:   engine,
		registry: registry,
		logger:   logger,
		clients:  make(map[id.SessionID]*client),
	}
}

// WithMetrics attaches a metrics sink.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// SetEngine binds the tutor engine. The handler and the engine reference
// each other (the handler is the engine's emitter), so one side is wired
// after construction.
func (h *Handler) SetEngine(e *tutor.Engine) {
	h.engine = e
}

// Emit routes a tutor event to the connection bound to the session.
// Sessions whose connection is gone drop the event silently.
func (h *Handler) Emit(sessionID id.SessionID, event string, payload interface{}) {
	h.mu.RLock()
	cl, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if event == tutor.EventComplete {
		h.registry.ClearActiveLesson(sessionID)
	}

	if err := cl.send(event, payload); err != nil {
		h.logger.Warn("Event delivery failed",
			zap.String("session", sessionID.String()),
			zap.String("event", event),
			zap.Error(err),
		)
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", event)
	}
}

// HandleConnection upgrades the request and serves the session until the
// socket closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	sess := h.registry.Create(connID)

	cl := &client{conn: conn, sessionID: sess.ID}
	h.mu.Lock()
	h.clients[sess.ID] = cl
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	defer h.teardown(cl, connID)

	cl.send("session-created", gin.H{"sessionId": sess.ID.String()})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("WebSocket read error",
					zap.String("session", sess.ID.String()),
					zap.Error(err),
				)
			}
			return
		}

		var msg Message
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			cl.send("error", gin.H{"message": "malformed message"})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		h.dispatch(cl, msg)
	}
}

func (h *Handler) dispatch(cl *client, msg Message) {
	sid := cl.sessionID
	h.registry.Touch(sid)

	switch msg.Type {
	case "create-terminal":
		h.handleCreateTerminal(cl, msg)
	case "terminal-input":
		h.handleTerminalInput(cl, msg)
	case "terminal-resize":
		h.handleTerminalResize(cl, msg)
	case "terminal-destroy":
		h.handleTerminalDestroy(cl)
	case "lesson-start":
		h.handleLessonStart(cl, msg)
	case "lesson-hint":
		h.handleLessonHint(cl)
	case "lesson-skip":
		h.engine.Skip(sid)
	case "lesson-stop":
		h.engine.Stop(sid)
		h.registry.ClearActiveLesson(sid)
	case "ping":
		cl.send("pong", nil)
	default:
		cl.send("error", gin.H{"message": "unknown message type: " + msg.Type})
	}
}

func (h *Handler) handleCreateTerminal(cl *client, msg Message) {
	sid := cl.sessionID

	// One PTY per session: replace any existing handle.
	if sess, ok := h.registry.Get(sid); ok && sess.TerminalID != "" {
		h.pool.Destroy(sess.TerminalID)
	}

	cols, rows := msg.Cols, msg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	termID, err := h.pool.Create(cols, rows)
	if err != nil {
		h.logger.Error("Terminal create failed", zap.Error(err))
		cl.send("error", gin.H{"message": "failed to create terminal"})
		return
	}
	h.registry.SetTerminal(sid, termID)
	if h.metrics != nil {
		h.metrics.TerminalsSpawned.Inc()
	}

	go h.pumpOutput(cl, termID)
	go h.pumpExit(cl, termID)

	cl.send("terminal-created", gin.H{"terminalId": termID})
}

// pumpOutput forwards PTY output to the client and feeds the validation
// buffer. It exits when the handle's output channel closes.
func (h *Handler) pumpOutput(cl *client, termID string) {
	out, ok := h.pool.Output(termID)
	if !ok {
		return
	}
	for data := range out {
		h.engine.RecordOutput(cl.sessionID, data)
		cl.send("terminal-output", gin.H{
			"terminalId": termID,
			"data":       string(data),
		})
	}
}

func (h *Handler) pumpExit(cl *client, termID string) {
	exit, ok := h.pool.Exit(termID)
	if !ok {
		return
	}
	code, ok := <-exit
	if !ok {
		return
	}
	cl.send("terminal-exit", gin.H{
		"terminalId": termID,
		"exitCode":   code,
	})

	if sess, ok := h.registry.Get(cl.sessionID); ok && sess.TerminalID == termID {
		h.registry.SetTerminal(cl.sessionID, "")
	}
}

func (h *Handler) handleTerminalInput(cl *client, msg Message) {
	sid := cl.sessionID
	sess, ok := h.registry.Get(sid)
	if !ok || sess.TerminalID == "" {
		cl.send("error", gin.H{"message": "no terminal for session"})
		return
	}

	if !h.pool.Write(sess.TerminalID, []byte(msg.Data)) {
		cl.send("error", gin.H{"message": "terminal is gone"})
		return
	}

	// Enter finishes a command; validate once the output has settled.
	if strings.ContainsAny(msg.Data, "\r\n") {
		if state, ok := h.engine.StateOf(sid); ok && state == tutor.StateWaitingInput {
			time.AfterFunc(validationDelay, func() {
				h.engine.Validate(sid)
			})
		}
	}
}

func (h *Handler) handleTerminalResize(cl *client, msg Message) {
	sess, ok := h.registry.Get(cl.sessionID)
	if !ok || sess.TerminalID == "" {
		return
	}
	h.pool.Resize(sess.TerminalID, msg.Cols, msg.Rows)
}

func (h *Handler) handleTerminalDestroy(cl *client) {
	sess, ok := h.registry.Get(cl.sessionID)
	if !ok || sess.TerminalID == "" {
		return
	}
	h.pool.Destroy(sess.TerminalID)
	h.registry.SetTerminal(cl.sessionID, "")
}

func (h *Handler) handleLessonStart(cl *client, msg Message) {
	sid := cl.sessionID
	termID := msg.TerminalID
	if termID == "" {
		if sess, ok := h.registry.Get(sid); ok {
			termID = sess.TerminalID
		}
	}

	res := h.engine.Start(sid, msg.LessonID, termID)
	if !res.Success {
		cl.send("error", gin.H{"message": res.Error})
		return
	}
	h.registry.SetActiveLesson(sid, msg.LessonID)
}

func (h *Handler) handleLessonHint(cl *client) {
	hint := h.engine.Hint(cl.sessionID)
	if hint == nil {
		cl.send("error", gin.H{"message": "no hints available"})
		return
	}
	cl.send("lesson-hint", hint)
}

// teardown releases everything the connection owned.
func (h *Handler) teardown(cl *client, connID string) {
	sid := cl.sessionID

	h.mu.Lock()
	delete(h.clients, sid)
	h.mu.Unlock()

	h.engine.Stop(sid)
	if sess, ok := h.registry.Get(sid); ok && sess.TerminalID != "" {
		h.pool.Destroy(sess.TerminalID)
	}
	h.registry.DestroyByConnection(connID)

	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.logger.Info("Connection closed", zap.String("session", sid.String()))
}

// ConnectionCount returns the number of live connections.
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
