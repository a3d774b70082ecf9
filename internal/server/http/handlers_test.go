package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteoscope/screening-service/internal/adminqueue"
	"github.com/osteoscope/screening-service/internal/analysis"
	"github.com/osteoscope/screening-service/internal/gateway"
	"github.com/osteoscope/screening-service/internal/notify"
	"github.com/osteoscope/screening-service/internal/observability"
	"github.com/osteoscope/screening-service/internal/store"
	"github.com/osteoscope/screening-service/internal/workflow"
)

type stubLLM struct {
	outputs []string
	err     error
}

func (s *stubLLM) Invoke(context.Context, gateway.Invocation) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(s.outputs) == 0 {
		return "", fmt.Errorf("stub llm: no outputs left")
	}
	out := s.outputs[0]
	s.outputs = s.outputs[1:]
	return out, nil
}

func (s *stubLLM) Model() string { return "stub" }

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, fileName, _ string, r io.Reader) (*gateway.UploadResult, error) {
	io.Copy(io.Discard, r)
	return &gateway.UploadResult{FileURL: "http://localhost/files/stored.png", FileName: fileName}, nil
}

const confirmedXRay = `{"is_xray":true,"confidence":0.96,"detected_region":"calcaneus","reasoning":"bone image"}`
const rejectedUpload = `{"is_xray":false,"confidence":0.91,"detected_region":"","reasoning":"photograph of a cat"}`
const roiProposal = `{"roi_box":{"x":120,"y":80,"width":64,"height":64},"roi_description":"posterior tuberosity"}`
const pipelineOutput = `{
	"predicted_bmd_gm_cm2": 0.62,
	"predicted_t_score": -2.8,
	"osteoporosis_risk_category": "osteoporosis",
	"confidence_level": 87,
	"overall_confidence": 0.88,
	"roi_coordinates": {"x": 120, "y": 80, "width": 64, "height": 64, "anatomical_location": "posterior tuberosity", "segmentation_method": "landmark-guided"}
}`

type testEnv struct {
	server *Server
	llm    *stubLLM
}

func newTestServer(t *testing.T, namespace string) *testEnv {
	t.Helper()
	st := store.New(store.NewMemoryBackend())
	llm := &stubLLM{}
	metrics := observability.NewMetrics(namespace)
	logger := zerolog.Nop()

	svc := workflow.NewService(workflow.Params{
		Store:            st,
		LLM:              llm,
		Uploader:         stubUploader{},
		Notifier:         notify.NewLogNotifier(logger),
		Metrics:          metrics,
		Logger:           logger,
		AdminEmail:       "admin@osteoscope.example",
		PaymentAmountINR: 199,
	})
	pipeline := analysis.NewPipeline(st, llm, metrics, logger)
	queue := adminqueue.New(st, svc, pipeline, notify.NewLogNotifier(logger), metrics, logger)

	server := NewServer(Config{Address: "127.0.0.1:0"}, svc, queue, pipeline, st, "", logger)
	return &testEnv{server: server, llm: llm}
}

func (env *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	return env.do(t, http.MethodPost, path, strings.NewReader(body), "application/json")
}

func decodeWorkflow(t *testing.T, rec *httptest.ResponseRecorder) workflowResponse {
	t.Helper()
	var resp workflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func multipartImage(t *testing.T) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "heel.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake-png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

const startBody = `{"user_email":"user@example.com","patient_name":"Asha Rao","patient_age":64,"patient_gender":"female"}`

func startWorkflowHTTP(t *testing.T, env *testEnv) workflowResponse {
	t.Helper()
	rec := env.postJSON(t, "/api/v1/workflows", startBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeWorkflow(t, rec)
}

func TestStartWorkflow(t *testing.T) {
	env := newTestServer(t, "test_http_start")
	wf := startWorkflowHTTP(t, env)

	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, "user@example.com", wf.UserEmail)
	assert.Equal(t, "upload", wf.WorkflowStep)
	assert.Equal(t, "upload", wf.CurrentStep)
	assert.Equal(t, "pending", wf.PaymentStatus)
	assert.Equal(t, 199, wf.PaymentAmountINR)
}

func TestStartWorkflowValidation(t *testing.T) {
	env := newTestServer(t, "test_http_start_validation")

	rec := env.postJSON(t, "/api/v1/workflows", `{"user_email":"not-an-email","patient_name":"Asha Rao"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_email")

	rec = env.postJSON(t, "/api/v1/workflows", `{"user_email":"user@example.com","patient_name":"Asha Rao","patient_age":150}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "patient_age")

	rec = env.postJSON(t, "/api/v1/workflows", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkflowNotFound(t *testing.T) {
	env := newTestServer(t, "test_http_get_missing")
	rec := env.do(t, http.MethodGet, "/api/v1/workflows/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWorkflowsRequiresOwner(t *testing.T) {
	env := newTestServer(t, "test_http_list")
	startWorkflowHTTP(t, env)

	rec := env.do(t, http.MethodGet, "/api/v1/workflows", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows?user_email=user@example.com", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listWorkflowsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.TotalCount)

	rec = env.do(t, http.MethodGet, "/api/v1/workflows?user_email=other@example.com", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 0, list.TotalCount)
}

func TestUploadImageAdvancesWorkflow(t *testing.T) {
	env := newTestServer(t, "test_http_upload")
	wf := startWorkflowHTTP(t, env)

	env.llm.outputs = []string{confirmedXRay}
	body, contentType := multipartImage(t)
	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/image", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decodeWorkflow(t, rec)
	assert.Equal(t, "roi_detection", updated.WorkflowStep)
	assert.True(t, updated.IsXRayConfirmed)
	assert.Equal(t, "calcaneus", updated.DetectedRegion)
	assert.Equal(t, "http://localhost/files/stored.png", updated.UploadedImageURL)
}

func TestUploadImageRejection(t *testing.T) {
	env := newTestServer(t, "test_http_upload_reject")
	wf := startWorkflowHTTP(t, env)

	env.llm.outputs = []string{rejectedUpload}
	body, contentType := multipartImage(t)
	rec := env.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/image", body, contentType)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var rej classificationRejectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rej))
	assert.Equal(t, "photograph of a cat", rej.Reason)
	assert.Equal(t, 0.91, rej.Confidence)

	// The rejected attempt leaves the workflow at the upload step.
	rec = env.do(t, http.MethodGet, "/api/v1/workflows/"+wf.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upload", decodeWorkflow(t, rec).WorkflowStep)
}

func TestUploadImageRequiresMultipart(t *testing.T) {
	env := newTestServer(t, "test_http_upload_bad_body")
	wf := startWorkflowHTTP(t, env)

	rec := env.postJSON(t, "/api/v1/workflows/"+wf.ID+"/image", `{"file":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionFromWrongStepConflicts(t *testing.T) {
	env := newTestServer(t, "test_http_wrong_step")
	wf := startWorkflowHTTP(t, env)

	rec := env.postJSON(t, "/api/v1/workflows/"+wf.ID+"/roi/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFullWorkflowOverHTTP(t *testing.T) {
	env := newTestServer(t, "test_http_full")
	wf := startWorkflowHTTP(t, env)
	base := "/api/v1/workflows/" + wf.ID

	env.llm.outputs = []string{confirmedXRay, roiProposal}
	body, contentType := multipartImage(t)
	rec := env.do(t, http.MethodPost, base+"/image", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.postJSON(t, base+"/roi/detect", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "roi_approval", decodeWorkflow(t, rec).WorkflowStep)

	rec = env.postJSON(t, base+"/roi/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payment", decodeWorkflow(t, rec).WorkflowStep)

	rec = env.postJSON(t, base+"/payment/claim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "awaiting_verification", decodeWorkflow(t, rec).PaymentStatus)

	// The claim appears in the admin queue.
	rec = env.do(t, http.MethodGet, "/api/v1/admin/queue", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var queue queueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Equal(t, 1, queue.TotalCount)
	assert.Equal(t, wf.ID, queue.Workflows[0].ID)

	// Approval runs the pipeline and completes the workflow.
	env.llm.outputs = []string{pipelineOutput}
	rec = env.postJSON(t, "/api/v1/admin/queue/"+wf.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := decodeWorkflow(t, rec)
	assert.Equal(t, "completed", completed.WorkflowStep)
	assert.Equal(t, "verified", completed.PaymentStatus)
	require.NotEmpty(t, completed.AnalysisID)

	rec = env.do(t, http.MethodGet, "/api/v1/analyses/"+completed.AnalysisID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "osteoporosis")

	rec = env.do(t, http.MethodGet, base+"/audit", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trail auditTrailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	assert.Equal(t, 7, trail.TotalCount)
}

func TestAdjustROIReturnsToDetection(t *testing.T) {
	env := newTestServer(t, "test_http_adjust")
	wf := startWorkflowHTTP(t, env)
	base := "/api/v1/workflows/" + wf.ID

	env.llm.outputs = []string{confirmedXRay, roiProposal}
	body, contentType := multipartImage(t)
	rec := env.do(t, http.MethodPost, base+"/image", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.postJSON(t, base+"/roi/detect", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, base+"/roi/adjust", "")
	require.Equal(t, http.StatusOK, rec.Code)
	adjusted := decodeWorkflow(t, rec)
	assert.Equal(t, "roi_detection", adjusted.WorkflowStep)
	assert.Empty(t, adjusted.ROICoordinates)
}

func TestAdminRejectRoutesBackToPayment(t *testing.T) {
	env := newTestServer(t, "test_http_reject")
	wf := startWorkflowHTTP(t, env)
	base := "/api/v1/workflows/" + wf.ID

	env.llm.outputs = []string{confirmedXRay, roiProposal}
	body, contentType := multipartImage(t)
	rec := env.do(t, http.MethodPost, base+"/image", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.postJSON(t, base+"/roi/detect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.postJSON(t, base+"/roi/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.postJSON(t, base+"/payment/claim", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/v1/admin/queue/"+wf.ID+"/reject", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decodeWorkflow(t, rec)
	assert.Equal(t, "failed", rejected.PaymentStatus)
	assert.Equal(t, "payment", rejected.CurrentStep)
}

func TestAdminApproveIneligibleConflicts(t *testing.T) {
	env := newTestServer(t, "test_http_approve_ineligible")
	wf := startWorkflowHTTP(t, env)

	rec := env.postJSON(t, "/api/v1/admin/queue/"+wf.ID+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAnalysisNotFound(t *testing.T) {
	env := newTestServer(t, "test_http_analysis_missing")
	rec := env.do(t, http.MethodGet, "/api/v1/analyses/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestServer(t, "test_http_health")

	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestServer(t, "test_http_request_id")

	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
