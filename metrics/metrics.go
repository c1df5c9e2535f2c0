// Package metrics exposes Prometheus collectors for the protocol engine.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "quizlink").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the registry collectors are registered with.
	// Default: a fresh registry per Collector, so several clients in one
	// process never collide.
	Registry *prometheus.Registry
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "quizlink",
		Subsystem: "client",
		Buckets:   prometheus.DefBuckets,
	}
}

// Collector holds the engine's metrics.
type Collector struct {
	registry        *prometheus.Registry
	framesIn        *prometheus.CounterVec
	framesOut       *prometheus.CounterVec
	malformedFrames prometheus.Counter
	pendingRequests prometheus.Gauge
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	eventsEmitted   *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		registry: config.Registry,

		framesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "Envelopes received, by channel",
			ConstLabels: config.ConstLabels,
		}, []string{"channel"}),

		framesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Envelopes sent, by channel",
			ConstLabels: config.ConstLabels,
		}, []string{"channel"}),

		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "malformed_frames_total",
			Help:        "Inbound frames or envelopes dropped as malformed",
			ConstLabels: config.ConstLabels,
		}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_requests",
			Help:        "Requests waiting for an acknowledgement",
			ConstLabels: config.ConstLabels,
		}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Time from sending a command to its settlement",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"command"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Commands settled, by command and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"command", "outcome"}),

		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Reconnection attempts, by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		eventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_emitted_total",
			Help:        "Lifecycle events emitted to listeners, by event",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state_transitions_total",
			Help:        "Session state transitions, by target state",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),
	}
}

// Registry returns the registry the collectors live in, for serving.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// FrameReceived records one inbound envelope.
func (c *Collector) FrameReceived(channel string) {
	if c == nil {
		return
	}
	c.framesIn.WithLabelValues(channel).Inc()
}

// FrameSent records one outbound envelope.
func (c *Collector) FrameSent(channel string) {
	if c == nil {
		return
	}
	c.framesOut.WithLabelValues(channel).Inc()
}

// MalformedFrame records a dropped frame.
func (c *Collector) MalformedFrame() {
	if c == nil {
		return
	}
	c.malformedFrames.Inc()
}

// SetPending records how many requests await an ack.
func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pendingRequests.Set(float64(n))
}

// Outcome labels for RequestSettled.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeLost     = "lost"
	OutcomeClosed   = "closed"
	OutcomeLocal    = "local"
	OutcomeError    = "error"
)

// RequestSettled records a command's duration and outcome.
func (c *Collector) RequestSettled(command, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.requestDuration.WithLabelValues(command).Observe(d.Seconds())
	c.requestsTotal.WithLabelValues(command, outcome).Inc()
}

// Reconnect results.
const (
	ReconnectSuccess   = "success"
	ReconnectFailure   = "failure"
	ReconnectExhausted = "exhausted"
)

// ReconnectAttempt records one reconnection attempt.
func (c *Collector) ReconnectAttempt(result string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(result).Inc()
}

// EventEmitted records one lifecycle event.
func (c *Collector) EventEmitted(event string) {
	if c == nil {
		return
	}
	c.eventsEmitted.WithLabelValues(event).Inc()
}

// StateChanged records a session transition.
func (c *Collector) StateChanged(state string) {
	if c == nil {
		return
	}
	c.stateChanges.WithLabelValues(state).Inc()
}
