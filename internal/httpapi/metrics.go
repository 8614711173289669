package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "dinerfeedback"

	rejectReasonInvalidJSON = "invalid_json"
	rejectReasonValidation  = "validation"
	rejectReasonPersistence = "persistence"
)

// Metrics holds the feedback lifecycle counters.
type Metrics struct {
	gatherer   prometheus.Gatherer
	created    prometheus.Counter
	duplicates prometheus.Counter
	deleted    prometheus.Counter
	rejected   *prometheus.CounterVec
}

// NewMetrics registers the feedback counters on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	metrics := &Metrics{
		gatherer: registry,
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feedback_created_total",
			Help:      "Feedback records stored.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feedback_duplicate_total",
			Help:      "Create requests answered from an existing submission token.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feedback_deleted_total",
			Help:      "Feedback records removed.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "feedback_rejected_total",
			Help:      "Create requests rejected, by reason.",
		}, []string{"reason"}),
	}
	registry.MustRegister(
		metrics.created,
		metrics.duplicates,
		metrics.deleted,
		metrics.rejected,
		collectors.NewGoCollector(),
	)
	return metrics
}

// Handler serves the registry in the Prometheus text format.
func (metrics *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metrics.gatherer, promhttp.HandlerOpts{}))
}

func (metrics *Metrics) observeCreated() {
	if metrics == nil {
		return
	}
	metrics.created.Inc()
}

func (metrics *Metrics) observeDuplicate() {
	if metrics == nil {
		return
	}
	metrics.duplicates.Inc()
}

func (metrics *Metrics) observeDeleted() {
	if metrics == nil {
		return
	}
	metrics.deleted.Inc()
}

func (metrics *Metrics) observeRejected(reason string) {
	if metrics == nil {
		return
	}
	metrics.rejected.WithLabelValues(reason).Inc()
}
