package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_screening_new")

	assert.NotNil(t, m.WorkflowsStarted)
	assert.NotNil(t, m.TransitionsTotal)
	assert.NotNil(t, m.TransitionsFailed)
	assert.NotNil(t, m.UploadsTotal)
	assert.NotNil(t, m.ClassificationRejections)
	assert.NotNil(t, m.LLMRequestsTotal)
	assert.NotNil(t, m.LLMRequestsFailed)
	assert.NotNil(t, m.LLMRequestDuration)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.AdminApprovals)
	assert.NotNil(t, m.AdminRejections)
	assert.NotNil(t, m.AnalysesCompleted)
	assert.NotNil(t, m.AnalysesFailed)
	assert.NotNil(t, m.AnalysisDuration)
}

func TestRecordWorkflowStarted(t *testing.T) {
	m := NewMetrics("test_workflow_started")

	initial := testutil.ToFloat64(m.WorkflowsStarted)
	m.RecordWorkflowStarted()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.WorkflowsStarted))
}

func TestRecordTransition(t *testing.T) {
	m := NewMetrics("test_transition")

	m.RecordTransition("approve_roi")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("approve_roi")))
}

func TestRecordTransitionFailed(t *testing.T) {
	m := NewMetrics("test_transition_failed")

	m.RecordTransitionFailed("upload_image", "not_an_xray")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsFailed.WithLabelValues("upload_image", "not_an_xray")))
}

func TestRecordClassificationRejection(t *testing.T) {
	m := NewMetrics("test_rejection")

	initial := testutil.ToFloat64(m.ClassificationRejections)
	m.RecordClassificationRejection()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.ClassificationRejections))
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetrics("test_llm_request")

	m.RecordLLMRequest("classify_image", "gpt-4o", 1.2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("classify_image", "gpt-4o")))
}

func TestRecordLLMRequestFailed(t *testing.T) {
	m := NewMetrics("test_llm_failed")

	m.RecordLLMRequestFailed("detect_roi", "gpt-4o", "rate_limited")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsFailed.WithLabelValues("detect_roi", "gpt-4o", "rate_limited")))
}

func TestSetQueueDepth(t *testing.T) {
	m := NewMetrics("test_queue_depth")

	m.SetQueueDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.QueueDepth))

	m.SetQueueDepth(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth))
}

func TestRecordAdminDecisions(t *testing.T) {
	m := NewMetrics("test_admin_decisions")

	m.RecordAdminApproval()
	m.RecordAdminRejection()
	m.RecordAdminRejection()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AdminApprovals))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AdminRejections))
}

func TestRecordAnalysisOutcomes(t *testing.T) {
	m := NewMetrics("test_analysis_outcomes")

	m.RecordAnalysisCompleted(12.5)
	m.RecordAnalysisFailed(3.0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalysesCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalysesFailed))
}
