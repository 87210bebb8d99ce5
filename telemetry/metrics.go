// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinesReceived      prometheus.Counter
	LinesSent          prometheus.Counter
	SendsDropped       prometheus.Counter
	HandlersDispatched *prometheus.CounterVec // label: kind (binding|listener)
	HandlerErrors      *prometheus.CounterVec // label: kind
	ConnectAttempts    prometheus.Counter
	ConnectionsLost    prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	QueueDepthGauge      prometheus.Gauge
	ConnectionStateGauge prometheus.Gauge
	PluginsLoadedGauge   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "twitcher_lines_received_total", Help: "Inbound IRC lines decoded"})
		LinesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "twitcher_lines_sent_total", Help: "Outbound IRC lines written to the transport"})
		SendsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "twitcher_sends_dropped_total", Help: "Queued sends dropped because no connection was available"})
		HandlersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitcher_handlers_dispatched_total", Help: "Handler and listener invocations"}, []string{"kind"})
		HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitcher_handler_errors_total", Help: "Handler and listener failures, panics included"}, []string{"kind"})
		ConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "twitcher_connect_attempts_total", Help: "Transport dial attempts"})
		ConnectionsLost = promauto.NewCounter(prometheus.CounterOpts{Name: "twitcher_connections_lost_total", Help: "Established connections that were lost"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "twitcher_dispatch_duration_seconds", Help: "Time to match and schedule one inbound line", Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitcher_queue_depth", Help: "Sends waiting in the flood queue"})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitcher_connection_state", Help: "Connection state: 0 idle, 1 connecting, 2 handshaking, 3 active, 4 lost, 5 closed"})
		PluginsLoadedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitcher_plugins_loaded", Help: "Plugins currently loaded"})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncKind increments the kind label of vec if metrics are initialized.
func IncKind(vec *prometheus.CounterVec, kind string) {
	if vec != nil {
		vec.WithLabelValues(kind).Inc()
	}
}

// SetQueueDepth records the flood queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(s int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.Set(float64(s))
	}
}

// SetPluginsLoaded records how many plugins are loaded.
func SetPluginsLoaded(n int) {
	if PluginsLoadedGauge != nil {
		PluginsLoadedGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
