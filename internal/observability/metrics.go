package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the screening service.
// Metrics are organized by subsystem: workflows, uploads, LLM operations,
// the admin verification queue, and analyses. All counters and histograms are
// registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// WorkflowsStarted counts the total number of screening workflows created.
	WorkflowsStarted prometheus.Counter

	// TransitionsTotal counts workflow transitions, labeled by transition name.
	TransitionsTotal *prometheus.CounterVec

	// TransitionsFailed counts failed workflow transitions, labeled by transition and error type.
	TransitionsFailed *prometheus.CounterVec

	// UploadsTotal counts image uploads accepted for classification.
	UploadsTotal prometheus.Counter

	// ClassificationRejections counts uploads rejected as non-radiographs.
	ClassificationRejections prometheus.Counter

	// LLMRequestsTotal counts model API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed model API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes model API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// QueueDepth tracks the current number of workflows awaiting admin verification.
	QueueDepth prometheus.Gauge

	// AdminApprovals counts payment approvals issued from the admin queue.
	AdminApprovals prometheus.Counter

	// AdminRejections counts payment rejections issued from the admin queue.
	AdminRejections prometheus.Counter

	// AnalysesCompleted counts analysis pipeline runs that produced a result record.
	AnalysesCompleted prometheus.Counter

	// AnalysesFailed counts analysis pipeline runs that ended in failure.
	AnalysesFailed prometheus.Counter

	// AnalysisDuration observes end-to-end analysis pipeline duration in seconds.
	AnalysisDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Workflows
		WorkflowsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of screening workflows started",
		}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of workflow transitions by transition name",
		}, []string{"transition"}),
		TransitionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_failed_total",
			Help:      "Total number of failed workflow transitions",
		}, []string{"transition", "error_type"}),

		// Uploads
		UploadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of image uploads accepted for classification",
		}),
		ClassificationRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_rejections_total",
			Help:      "Total number of uploads rejected as non-radiographs",
		}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of model requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed model requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of model requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),

		// Admin queue
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verification_queue_depth",
			Help:      "Current number of workflows awaiting admin verification",
		}),
		AdminApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_approvals_total",
			Help:      "Total number of payment approvals from the admin queue",
		}),
		AdminRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_rejections_total",
			Help:      "Total number of payment rejections from the admin queue",
		}),

		// Analyses
		AnalysesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_completed_total",
			Help:      "Total number of analysis pipeline runs completed successfully",
		}),
		AnalysesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_failed_total",
			Help:      "Total number of analysis pipeline runs that failed",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of analysis pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}

// RecordWorkflowStarted records that a workflow has been created.
func (m *Metrics) RecordWorkflowStarted() {
	m.WorkflowsStarted.Inc()
}

// RecordTransition records a successful workflow transition.
func (m *Metrics) RecordTransition(transition string) {
	m.TransitionsTotal.WithLabelValues(transition).Inc()
}

// RecordTransitionFailed records a failed workflow transition.
func (m *Metrics) RecordTransitionFailed(transition, errorType string) {
	m.TransitionsFailed.WithLabelValues(transition, errorType).Inc()
}

// RecordUpload records an image upload accepted for classification.
func (m *Metrics) RecordUpload() {
	m.UploadsTotal.Inc()
}

// RecordClassificationRejection records an upload rejected as not an X-ray.
func (m *Metrics) RecordClassificationRejection() {
	m.ClassificationRejections.Inc()
}

// RecordLLMRequest records a model request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
}

// RecordLLMRequestFailed records a failed model request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// SetQueueDepth records the current verification queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordAdminApproval records a payment approval.
func (m *Metrics) RecordAdminApproval() {
	m.AdminApprovals.Inc()
}

// RecordAdminRejection records a payment rejection.
func (m *Metrics) RecordAdminRejection() {
	m.AdminRejections.Inc()
}

// RecordAnalysisCompleted records a successful pipeline run.
func (m *Metrics) RecordAnalysisCompleted(durationSeconds float64) {
	m.AnalysesCompleted.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnalysisFailed records a failed pipeline run.
func (m *Metrics) RecordAnalysisFailed(durationSeconds float64) {
	m.AnalysesFailed.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}
