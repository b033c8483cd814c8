package metrics

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusMetrics struct {
    counters   map[string]*prometheus.CounterVec
    histograms map[string]*prometheus.HistogramVec
    gauges     map[string]*prometheus.GaugeVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
    pm := &PrometheusMetrics{
        counters:   make(map[string]*prometheus.CounterVec),
        histograms: make(map[string]*prometheus.HistogramVec),
        gauges:     make(map[string]*prometheus.GaugeVec),
    }

    pm.registerMetrics()

    return pm
}

func (pm *PrometheusMetrics) registerMetrics() {
    // Counters
    pm.counters["calls_originated"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "calls_originated_total",
            Help: "Total originations by outcome",
        },
        []string{"outcome"},
    )

    pm.counters["ari_events"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ari_events_total",
            Help: "ARI events received by type and result",
        },
        []string{"event_type", "result"},
    )

    pm.counters["call_transitions"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "call_state_transitions_total",
            Help: "Call state transitions by from/to state and result",
        },
        []string{"from", "to", "result"},
    )

    pm.counters["auth_attempts"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "auth_attempts_total",
            Help: "Authentication attempts by result",
        },
        []string{"result"},
    )

    pm.counters["ratelimit_rejections"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ratelimit_rejections_total",
            Help: "Requests rejected by the rate limiter",
        },
        []string{"endpoint"},
    )

    // Histograms
    pm.histograms["origination_duration"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "origination_duration_seconds",
            Help:    "Time spent in the ARI originate call",
            Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
        },
        []string{},
    )

    pm.histograms["call_duration"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "call_duration_seconds",
            Help:    "Answered call duration",
            Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1800, 3600},
        },
        []string{},
    )

    // Gauges
    pm.gauges["circuit_breaker_state"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "circuit_breaker_state",
            Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
        },
        []string{"name"},
    )

    pm.gauges["active_calls"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "active_calls",
            Help: "Calls currently in a non-terminal state",
        },
        []string{},
    )

    pm.gauges["ari_ws_connected"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "ari_ws_connected",
            Help: "Whether the ARI event stream is connected",
        },
        []string{},
    )

    for _, counter := range pm.counters {
        prometheus.MustRegister(counter)
    }
    for _, histogram := range pm.histograms {
        prometheus.MustRegister(histogram)
    }
    for _, gauge := range pm.gauges {
        prometheus.MustRegister(gauge)
    }
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
    if counter, exists := pm.counters[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        counter.With(prometheus.Labels(labels)).Inc()
    }
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
    if histogram, exists := pm.histograms[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        histogram.With(prometheus.Labels(labels)).Observe(value)
    }
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
    if gauge, exists := pm.gauges[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        gauge.With(prometheus.Labels(labels)).Set(value)
    }
}

// Handler exposes the prometheus scrape endpoint for mounting on the API mux.
func (pm *PrometheusMetrics) Handler() http.Handler {
    return promhttp.Handler()
}
