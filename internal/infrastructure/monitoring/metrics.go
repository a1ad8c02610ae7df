package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// Terminal pool metrics
	TerminalsActive  prometheus.Gauge
	TerminalsSpawned prometheus.Counter
	TerminalsReaped  prometheus.Counter

	// Voice synthesis metrics
	VoiceQueueDepth   prometheus.Gauge
	SynthesisTotal    *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram

	// Lesson run metrics
	LessonsStarted   prometheus.Counter
	LessonsCompleted prometheus.Counter
	ValidationsTotal *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// Session metrics
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_sessions_active",
				Help: "Number of active learner sessions",
			},
		),

		// Terminal pool metrics
		TerminalsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_terminals_active",
				Help: "Number of live PTY handles in the pool",
			},
		),
		TerminalsSpawned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_terminals_spawned_total",
				Help: "Total number of PTY shells spawned",
			},
		),
		TerminalsReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_terminals_reaped_total",
				Help: "Total number of idle PTY shells reaped",
			},
		),

		// Voice synthesis metrics
		VoiceQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_voice_queue_depth",
				Help: "Number of synthesis requests waiting in the queue",
			},
		),
		SynthesisTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_voice_synthesis_total",
				Help: "Total number of synthesis attempts",
			},
			[]string{"status"},
		),
		SynthesisDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backend_voice_synthesis_duration_seconds",
				Help:    "Speech synthesis duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		// Lesson run metrics
		LessonsStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_lessons_started_total",
				Help: "Total number of lesson runs started",
			},
		),
		LessonsCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_lessons_completed_total",
				Help: "Total number of lesson runs completed",
			},
		),
		ValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_validations_total",
				Help: "Total number of step validations",
			},
			[]string{"result"},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message by direction and type
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SynthesisDone records one synthesis attempt. Satisfies the voice queue's
// metrics hook.
func (m *Metrics) SynthesisDone(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SynthesisTotal.WithLabelValues(status).Inc()
	m.SynthesisDuration.Observe(duration.Seconds())
}

// LessonStarted records a lesson run start. Satisfies the tutor engine's
// metrics hook together with LessonCompleted and Validation.
func (m *Metrics) LessonStarted() {
	m.LessonsStarted.Inc()
}

// LessonCompleted records a lesson run completion
func (m *Metrics) LessonCompleted() {
	m.LessonsCompleted.Inc()
}

// Validation records a step validation outcome
func (m *Metrics) Validation(success bool) {
	result := "fail"
	if success {
		result = "pass"
	}
	m.ValidationsTotal.WithLabelValues(result).Inc()
}

// Poll periodically copies live counts into the gauges until stop closes.
func (m *Metrics) Poll(interval time.Duration, stop <-chan struct{}, sessions, terminals, queueDepth func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SessionsActive.Set(float64(sessions()))
			m.TerminalsActive.Set(float64(terminals()))
			m.VoiceQueueDepth.Set(float64(queueDepth()))
		case <-stop:
			return
		}
	}
}
