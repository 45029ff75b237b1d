package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	activeContexts       prometheus.Gauge
	contextsCreatedTotal prometheus.Counter
	contextsCleanedTotal prometheus.Counter

	wsClients prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_total",
					Help: "Total dispatches by isolation strategy and status.",
				},
				[]string{"strategy", "status"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dispatch_duration_seconds",
					Help:    "Dispatch duration in seconds by isolation strategy.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"strategy"},
			),
			activeContexts: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_contexts",
					Help: "Current tracked conversation context count.",
				},
			),
			contextsCreatedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "contexts_created_total",
					Help: "Total conversation contexts created.",
				},
			),
			contextsCleanedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "contexts_cleaned_total",
					Help: "Total conversation contexts cleaned up.",
				},
			),
			wsClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "ws_clients",
					Help: "Currently connected WebSocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.dispatchTotal,
			m.dispatchDuration,
			m.activeContexts,
			m.contextsCreatedTotal,
			m.contextsCleanedTotal,
			m.wsClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordDispatch(strategy string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dispatchTotal.WithLabelValues(strategy, status).Inc()
	m.dispatchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func SetActiveContexts(count int) {
	m := getMetrics()
	m.activeContexts.Set(float64(count))
}

func RecordContextCreated(activeCount int) {
	m := getMetrics()
	m.contextsCreatedTotal.Inc()
	m.activeContexts.Set(float64(activeCount))
}

func RecordContextCleaned(activeCount int) {
	m := getMetrics()
	m.contextsCleanedTotal.Inc()
	m.activeContexts.Set(float64(activeCount))
}

func AddWSClient(delta int) {
	m := getMetrics()
	m.wsClients.Add(float64(delta))
}
