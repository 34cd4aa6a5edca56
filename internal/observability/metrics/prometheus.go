// Package metrics provides Prometheus metrics for the concentration engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	IntakesExtracted      prometheus.Counter
	ExtractionFailures    prometheus.Counter
	PredictionsComputed   prometheus.Counter
	PredictionFailures    prometheus.Counter
	PredictionDuration    prometheus.Histogram
	EstimationsQueued     prometheus.Counter
	EstimationsCompleted  prometheus.Counter
	EstimationsFailed     prometheus.Counter
	EstimationDuration    prometheus.Histogram
	ObjectiveEvaluations  prometheus.Counter
	ActiveEstimations     prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
	HTTPRequests          *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		IntakesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intakes_extracted_total",
			Help: "Total intake events extracted from dosage histories",
		}),
		ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_extraction_failures_total",
			Help: "Total failed intake extractions",
		}),
		PredictionsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "predictions_computed_total",
			Help: "Total concentration predictions computed",
		}),
		PredictionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total failed concentration predictions",
		}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_duration_seconds",
			Help:    "Concentration prediction duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		EstimationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estimations_queued_total",
			Help: "Total parameter estimations queued",
		}),
		EstimationsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estimations_completed_total",
			Help: "Total parameter estimations completed",
		}),
		EstimationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "estimations_failed_total",
			Help: "Total failed parameter estimations",
		}),
		EstimationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "estimation_duration_seconds",
			Help:    "Parameter estimation duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		ObjectiveEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objective_evaluations_total",
			Help: "Total likelihood objective evaluations",
		}),
		ActiveEstimations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "estimations_active",
			Help: "Estimations currently being processed",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}

	prometheus.MustRegister(
		m.IntakesExtracted,
		m.ExtractionFailures,
		m.PredictionsComputed,
		m.PredictionFailures,
		m.PredictionDuration,
		m.EstimationsQueued,
		m.EstimationsCompleted,
		m.EstimationsFailed,
		m.EstimationDuration,
		m.ObjectiveEvaluations,
		m.ActiveEstimations,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
