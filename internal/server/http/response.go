package httpserver

import (
	"time"

	"github.com/osteoscope/screening-service/internal/domain"
)

// Workflow response types for JSON serialization.

type workflowResponse struct {
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"created_date"`

	UserEmail     string `json:"user_email"`
	PatientName   string `json:"patient_name"`
	PatientAge    int    `json:"patient_age,omitempty"`
	PatientGender string `json:"patient_gender,omitempty"`

	UploadedImageURL string `json:"uploaded_image_url,omitempty"`
	UploadedFileName string `json:"uploaded_file_name,omitempty"`
	IsXRayConfirmed  bool   `json:"is_xray_confirmed"`
	DetectedRegion   string `json:"detected_anatomical_region,omitempty"`

	ROICoordinates string `json:"roi_coordinates,omitempty"`
	ROIApproved    bool   `json:"roi_approved"`

	PaymentStatus    string `json:"payment_status"`
	WorkflowStep     string `json:"workflow_step"`
	PaymentAmountINR int    `json:"payment_amount_inr,omitempty"`

	// CurrentStep is the resume point derived from the persisted fields. It
	// diverges from workflow_step after a payment rejection.
	CurrentStep string `json:"current_step"`

	AnalysisID   string `json:"analysis_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type listWorkflowsResponse struct {
	Workflows  []workflowResponse `json:"workflows"`
	TotalCount int                `json:"total_count"`
}

type auditEntryResponse struct {
	ID          string         `json:"id"`
	CreatedDate time.Time      `json:"created_date"`
	WorkflowID  string         `json:"workflow_id"`
	Event       string         `json:"event"`
	Details     map[string]any `json:"details,omitempty"`
}

type auditTrailResponse struct {
	Entries    []auditEntryResponse `json:"entries"`
	TotalCount int                  `json:"total_count"`
}

type queueResponse struct {
	Workflows  []workflowResponse `json:"workflows"`
	TotalCount int                `json:"total_count"`
}

// classificationRejectionResponse is returned when an uploaded image is
// rejected by the classifier. The attempt leaves no trace on the workflow.
type classificationRejectionResponse struct {
	Error      string  `json:"error"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Converter functions

func domainWorkflowToResponse(wf *domain.Workflow) workflowResponse {
	return workflowResponse{
		ID:               wf.ID,
		CreatedDate:      wf.CreatedDate,
		UserEmail:        wf.UserEmail,
		PatientName:      wf.PatientName,
		PatientAge:       wf.PatientAge,
		PatientGender:    wf.PatientGender,
		UploadedImageURL: wf.UploadedImageURL,
		UploadedFileName: wf.UploadedFileName,
		IsXRayConfirmed:  wf.IsXRayConfirmed,
		DetectedRegion:   string(wf.DetectedRegion),
		ROICoordinates:   wf.ROICoordinates,
		ROIApproved:      wf.ROIApproved,
		PaymentStatus:    string(wf.PaymentStatus),
		WorkflowStep:     string(wf.WorkflowStep),
		PaymentAmountINR: wf.PaymentAmountINR,
		CurrentStep:      string(wf.DeriveStep()),
		AnalysisID:       wf.AnalysisID,
		ErrorMessage:     wf.ErrorMessage,
	}
}

func domainWorkflowsToResponses(wfs []domain.Workflow) []workflowResponse {
	out := make([]workflowResponse, len(wfs))
	for i := range wfs {
		out[i] = domainWorkflowToResponse(&wfs[i])
	}
	return out
}

func domainAuditEntryToResponse(e *domain.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:          e.ID,
		CreatedDate: e.CreatedDate,
		WorkflowID:  e.WorkflowID,
		Event:       e.Event,
		Details:     e.Details,
	}
}
