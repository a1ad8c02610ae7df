package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shellcoach/backend/internal/api/middleware"
	"github.com/shellcoach/backend/internal/api/ws"
	"github.com/shellcoach/backend/internal/domain/lesson"
	"github.com/shellcoach/backend/internal/domain/session"
	"github.com/shellcoach/backend/internal/domain/tutor"
	"github.com/shellcoach/backend/internal/infrastructure/config"
	"github.com/shellcoach/backend/internal/infrastructure/logging"
	"github.com/shellcoach/backend/internal/infrastructure/monitoring"
	"github.com/shellcoach/backend/internal/providers/terminal"
	"github.com/shellcoach/backend/internal/providers/voice"
)

// speakerAdapter narrows the synthesis queue to what the engine needs.
type speakerAdapter struct {
	queue *voice.Queue
}

func (a speakerAdapter) Speak(ctx context.Context, text, persona string) tutor.SpeechResult {
	res := a.queue.Speak(ctx, text, persona)
	return tutor.SpeechResult{
		Success:  res.Success,
		AudioURL: res.AudioURL,
		Duration: res.Duration,
	}
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	pool      *terminal.Pool
	queue     *voice.Queue
	catalog   *lesson.Catalog
	registry  *session.Registry
	engine    *tutor.Engine
	wsHandler *ws.Handler
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics

	voiceReady bool
	pollStop   chan struct{}
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing ShellCoach Server",
		zap.String("port", cfg.Server.Port),
		zap.String("lessons_dir", cfg.Lessons.Dir),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	// Terminal pool
	pool := terminal.NewPool(terminal.Config{
		Shell:         cfg.Terminal.Shell,
		IdleTimeout:   cfg.Terminal.IdleTimeout,
		SweepInterval: cfg.Terminal.SweepInterval,
		DemoDelay:     cfg.Terminal.DemoDelay,
	}, logger)

	// Synthesis queue
	queue := voice.NewQueue(voice.Config{
		OutputDir:       cfg.Voice.OutputDir,
		PublicPath:      cfg.Voice.PublicPath,
		SynthTimeout:    cfg.Voice.SynthTimeout,
		CleanupMaxAge:   cfg.Voice.CleanupMaxAge,
		CleanupInterval: cfg.Voice.CleanupInterval,
	}, nil, logger).WithMetrics(metrics)
	queue.StartPeriodicCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	voiceReady := queue.CheckAvailability(ctx)
	cancel()
	if !voiceReady {
		logger.Warn("edge-tts not available, lessons will run without audio")
	}

	// Lesson catalog
	catalog := lesson.NewCatalog(cfg.Lessons.Dir, logger)
	logger.Info("Lesson catalog loaded", zap.Int("lessons", catalog.Count()))

	// Session registry
	registry := session.NewRegistry(session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
	}, logger)

	// Tutor engine, wired through the WebSocket layer for event delivery
	wsHandler := ws.NewHandler(pool, nil, registry, logger).WithMetrics(metrics)
	engine := tutor.NewEngine(catalog, speakerAdapter{queue: queue}, pool, wsHandler, logger).
		WithMetrics(metrics).
		WithRecorder(registry)
	wsHandler.SetEngine(engine)

	pollStop := make(chan struct{})
	go metrics.Poll(5*time.Second, pollStop, registry.Count, pool.Count, queue.Depth)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	s := &Server{
		router:     router,
		pool:       pool,
		queue:      queue,
		catalog:    catalog,
		registry:   registry,
		engine:     engine,
		wsHandler:  wsHandler,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		voiceReady: voiceReady,
		pollStop:   pollStop,
	}

	// Register routes
	router.GET("/health", s.health)
	router.GET("/lessons", s.listLessons)
	router.GET("/lessons/:id", s.getLesson)
	router.GET("/voices", s.listVoices)

	// WebSocket
	router.GET("/stream", wsHandler.HandleConnection)

	// Synthesized audio artifacts
	router.Static(cfg.Voice.PublicPath, cfg.Voice.OutputDir)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"sessions":  s.registry.Count(),
		"terminals": s.pool.Count(),
		"lessons":   s.catalog.Count(),
		"voice":     s.voiceReady,
	})
}

func (s *Server) listLessons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lessons": s.catalog.List()})
}

func (s *Server) getLesson(c *gin.Context) {
	l, ok := s.catalog.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "lesson not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) listVoices(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{"voices": s.queue.ListVoices(ctx)})
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	close(s.pollStop)
	s.engine.StopAll()
	s.registry.Shutdown()
	s.pool.Shutdown()
	s.queue.Shutdown()

	// Sync logger before exit
	s.logger.Sync()
	return nil
}
