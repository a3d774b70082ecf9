package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteoscope/screening-service/internal/domain"
	"github.com/osteoscope/screening-service/internal/gateway"
	"github.com/osteoscope/screening-service/internal/observability"
	"github.com/osteoscope/screening-service/internal/store"
)

type stubLLM struct {
	output string
	err    error
	calls  []gateway.Invocation
}

func (s *stubLLM) Invoke(_ context.Context, inv gateway.Invocation) (string, error) {
	s.calls = append(s.calls, inv)
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func (s *stubLLM) Model() string { return "stub" }

const pipelineOutput = `{
	"predicted_bmd_gm_cm2": 0.62,
	"predicted_t_score": -2.8,
	"predicted_z_score": -1.4,
	"osteoporosis_risk_category": "osteoporosis",
	"dxa_recommendation": "Confirmatory DXA scan recommended",
	"confidence_level": 87,
	"texture_contrast": 0.42,
	"jhamaria_index": 4,
	"roi_coordinates": {"x": 120, "y": 80, "width": 64, "height": 64, "anatomical_location": "posterior tuberosity", "segmentation_method": "landmark-guided"},
	"roi_appropriateness_score": 91,
	"roi_quality_flags": ["Good placement"],
	"detection_qa_score": 0.9,
	"overall_confidence": 0.88,
	"model_version": "OsteoScope-v2.1"
}`

func approvedWorkflow() *domain.Workflow {
	return &domain.Workflow{
		ID:               "wf-approved-1",
		UserEmail:        "user@example.com",
		PatientName:      "Asha Rao",
		PatientAge:       64,
		PatientGender:    "female",
		UploadedImageURL: "http://localhost/files/heel.png",
		IsXRayConfirmed:  true,
		DetectedRegion:   domain.RegionCalcaneus,
		ROICoordinates:   `{"x":120,"y":80,"width":64,"height":64}`,
		ROIApproved:      true,
		PaymentStatus:    domain.PaymentAwaitingVerification,
		WorkflowStep:     domain.StepAnalysisInProgress,
	}
}

func newTestPipeline(t *testing.T, namespace string, llm *stubLLM) (*Pipeline, *store.Store) {
	t.Helper()
	st := store.New(store.NewMemoryBackend())
	return NewPipeline(st, llm, observability.NewMetrics(namespace), zerolog.Nop()), st
}

func TestRunCreatesAnalysisRecords(t *testing.T) {
	llm := &stubLLM{output: pipelineOutput}
	p, st := newTestPipeline(t, "test_pipeline_run", llm)
	ctx := context.Background()

	created, err := p.Run(ctx, approvedWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Asha Rao", created.PatientName)
	assert.Equal(t, domain.RegionCalcaneus, created.AnatomicalRegion)
	assert.Equal(t, domain.AnalysisCompleted, created.AnalysisStatus)
	assert.InDelta(t, -2.8, created.PredictedTScore, 0.001)
	assert.Equal(t, domain.RiskOsteoporosis, created.RiskCategory)
	require.NotNil(t, created.JhamariaIndex)
	assert.InDelta(t, 4, *created.JhamariaIndex, 0.001)
	assert.Nil(t, created.SinghIndex)
	assert.Contains(t, created.ROICoordinates, "posterior tuberosity")

	// The quality record is keyed by the analysis id.
	rows, err := st.Filter(ctx, trabecularCollection, store.Record{"xray_analysis_id": created.ID}, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.9, rows[0]["detection_qa_score"])
	assert.Equal(t, 0.88, rows[0]["overall_confidence"])

	got, err := p.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestRunAppliesReferenceDefaults(t *testing.T) {
	llm := &stubLLM{output: pipelineOutput}
	p, st := newTestPipeline(t, "test_pipeline_defaults", llm)
	ctx := context.Background()

	created, err := p.Run(ctx, approvedWorkflow())
	require.NoError(t, err)

	rows, err := st.Filter(ctx, trabecularCollection, store.Record{"xray_analysis_id": created.ID}, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Metrics the model omitted fall back to the reference values.
	assert.Equal(t, 0.85, rows[0]["detection_ap"])
	assert.Equal(t, float64(145), rows[0]["trabecular_thickness"])
	assert.Equal(t, "OsteoScope-v2.1", rows[0]["model_version"])
}

func TestRunAppliesDemographicFallbacks(t *testing.T) {
	llm := &stubLLM{output: pipelineOutput}
	p, _ := newTestPipeline(t, "test_pipeline_fallbacks", llm)

	wf := approvedWorkflow()
	wf.PatientName = ""
	wf.PatientAge = 0
	wf.PatientGender = ""

	created, err := p.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Contains(t, created.PatientName, "Patient for WF #")
	assert.Equal(t, 65, created.PatientAge)
	assert.Equal(t, "unknown", created.PatientGender)
}

func TestRunAttachesRadiographAndReferenceImage(t *testing.T) {
	llm := &stubLLM{output: pipelineOutput}
	p, _ := newTestPipeline(t, "test_pipeline_images", llm)

	_, err := p.Run(context.Background(), approvedWorkflow())
	require.NoError(t, err)

	require.Len(t, llm.calls, 1)
	require.Len(t, llm.calls[0].FileURLs, 2)
	assert.Equal(t, "http://localhost/files/heel.png", llm.calls[0].FileURLs[0])
	assert.Contains(t, llm.calls[0].Prompt, "calcaneus")
	assert.Contains(t, llm.calls[0].Prompt, "Posterior tuberosity")
}

func TestRunFailsWithoutPrerequisites(t *testing.T) {
	llm := &stubLLM{output: pipelineOutput}
	p, st := newTestPipeline(t, "test_pipeline_prereq", llm)
	ctx := context.Background()

	wf := approvedWorkflow()
	wf.UploadedImageURL = ""

	_, err := p.Run(ctx, wf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPipelineFailed))
	assert.Empty(t, llm.calls, "the model is never called")

	rows, err := st.List(ctx, analysisCollection, "", 0)
	require.NoError(t, err)
	assert.Empty(t, rows, "nothing is persisted")
}

func TestRunModelFailureCreatesNoRecords(t *testing.T) {
	llm := &stubLLM{err: fmt.Errorf("model unavailable")}
	p, st := newTestPipeline(t, "test_pipeline_modelerr", llm)
	ctx := context.Background()

	_, err := p.Run(ctx, approvedWorkflow())
	require.Error(t, err)

	var perr *domain.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "model_invocation", perr.Stage)
	assert.ErrorContains(t, err, "model unavailable")

	rows, err := st.List(ctx, analysisCollection, "", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	trab, err := st.List(ctx, trabecularCollection, "", 0)
	require.NoError(t, err)
	assert.Empty(t, trab)
}

func TestBuildAnalysisPromptLandmarks(t *testing.T) {
	femur := buildAnalysisPrompt(domain.RegionProximalFemur)
	assert.Contains(t, femur, "Ward's triangle")

	other := buildAnalysisPrompt(domain.RegionClavicle)
	assert.Contains(t, other, "Key cortical and trabecular boundaries")
}
