package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	translationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_translation_requests_total",
			Help: "Total number of NL-to-SQL translation attempts by status.",
		},
		[]string{"status"},
	)
	translationFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_translation_fallbacks_total",
			Help: "Total number of translator responses that failed structured parsing and fell back to raw SQL.",
		},
	)
	pipelineStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_pipeline_stage_failures_total",
			Help: "Total number of query pipeline failures by stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		translationRequestsTotal,
		translationFallbacksTotal,
		pipelineStageFailuresTotal,
	)
}

func ObserveTranslation(status string) {
	translationRequestsTotal.WithLabelValues(status).Inc()
}

func IncrementTranslationFallback() {
	translationFallbacksTotal.Inc()
}

func IncrementPipelineStageFailure(stage string) {
	pipelineStageFailuresTotal.WithLabelValues(stage).Inc()
}
