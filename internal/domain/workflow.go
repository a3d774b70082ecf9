package domain

import (
	"fmt"
	"time"
)

// Workflow is one end-to-end analysis request, from upload through results.
// It is persisted in the "Workflow" collection of the entity store; every
// mutating transition rewrites the record and appends one audit entry.
type Workflow struct {
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"created_date"`

	// Owner and patient context.
	UserEmail     string `json:"user_email"`
	PatientName   string `json:"patient_name"`
	PatientAge    int    `json:"patient_age,omitempty"`
	PatientGender string `json:"patient_gender,omitempty"`

	// Upload and classification outcome.
	UploadedImageURL string           `json:"uploaded_image_url,omitempty"`
	UploadedFileName string           `json:"uploaded_file_name,omitempty"`
	IsXRayConfirmed  bool             `json:"is_xray_confirmed"`
	DetectedRegion   AnatomicalRegion `json:"detected_anatomical_region,omitempty"`

	// ROI proposal and approval.
	ROICoordinates string `json:"roi_coordinates,omitempty"`
	ROIApproved    bool   `json:"roi_approved"`

	// Payment and lifecycle state.
	PaymentStatus    PaymentStatus `json:"payment_status"`
	WorkflowStep     WorkflowStep  `json:"workflow_step"`
	PaymentAmountINR int           `json:"payment_amount_inr,omitempty"`

	// Analysis outcome.
	AnalysisID    string `json:"analysis_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	AnalysisNotes string `json:"analysis_notes,omitempty"`
}

// IsTerminal returns true once the workflow has reached a final step.
func (w *Workflow) IsTerminal() bool {
	return w.WorkflowStep.IsTerminal()
}

// DeriveStep computes the step to resume at from persisted fields alone.
// A workflow may span multiple sessions and an out-of-band admin action, so
// the resume point must never rely on client-held memory.
func (w *Workflow) DeriveStep() WorkflowStep {
	if w.WorkflowStep.IsTerminal() {
		return w.WorkflowStep
	}
	// A rejected payment sends the user back to the payment retry screen
	// regardless of the step the rejection left untouched.
	if w.PaymentStatus == PaymentFailed {
		return StepPayment
	}
	switch w.WorkflowStep {
	case StepAwaitingVerification, StepAnalysisInProgress:
		return w.WorkflowStep
	}
	if w.UploadedImageURL == "" || !w.IsXRayConfirmed {
		return StepUpload
	}
	if w.ROICoordinates == "" {
		return StepROIDetection
	}
	if !w.ROIApproved {
		return StepROIApproval
	}
	return StepPayment
}

// Validate checks that the persisted record describes a legal
// (step, payment, fields-present) combination. Records that fail validation
// are rejected at load rather than rendered from an impossible state.
func (w *Workflow) Validate() error {
	fail := func(format string, args ...any) error {
		return &InvalidStateError{
			WorkflowID: w.ID,
			Step:       w.WorkflowStep,
			Message:    fmt.Sprintf(format, args...),
		}
	}

	if !IsValidWorkflowStep(w.WorkflowStep) {
		return fail("unknown workflow step")
	}
	if !IsValidPaymentStatus(w.PaymentStatus) {
		return fail("unknown payment status %q", w.PaymentStatus)
	}

	switch w.WorkflowStep {
	case StepUpload:
		if w.PaymentStatus != PaymentPending {
			return fail("payment status %q before payment step", w.PaymentStatus)
		}
	case StepROIDetection, StepROIApproval:
		if w.UploadedImageURL == "" || !w.IsXRayConfirmed {
			return fail("no confirmed x-ray image")
		}
		if w.PaymentStatus != PaymentPending {
			return fail("payment status %q before payment step", w.PaymentStatus)
		}
		if w.WorkflowStep == StepROIApproval && w.ROICoordinates == "" {
			return fail("awaiting roi approval without roi coordinates")
		}
	case StepPayment:
		if !w.ROIApproved {
			return fail("reached payment without roi approval")
		}
		switch w.PaymentStatus {
		case PaymentPending, PaymentFailed, PaymentManualVerification:
		default:
			return fail("payment status %q on payment step", w.PaymentStatus)
		}
	case StepAwaitingVerification:
		switch w.PaymentStatus {
		case PaymentAwaitingVerification, PaymentFailed:
		default:
			return fail("payment status %q while awaiting verification", w.PaymentStatus)
		}
	case StepAnalysisInProgress:
		if w.PaymentStatus != PaymentAwaitingVerification {
			return fail("payment status %q during analysis", w.PaymentStatus)
		}
	case StepCompleted:
		if w.PaymentStatus != PaymentVerified {
			return fail("completed with payment status %q", w.PaymentStatus)
		}
		if w.AnalysisID == "" {
			return fail("completed without analysis record")
		}
	case StepAnalysisFailed:
		if w.ErrorMessage == "" {
			return fail("analysis failed without error message")
		}
	}
	return nil
}

// HasAnalysisPrerequisites reports whether the workflow carries every field
// the analysis pipeline requires. Workflows missing any of these are silently
// excluded from the admin queue until the omission is fixed upstream.
func (w *Workflow) HasAnalysisPrerequisites() bool {
	return w.PatientName != "" &&
		w.PatientAge > 0 &&
		w.PatientGender != "" &&
		w.DetectedRegion != "" &&
		w.UploadedImageURL != ""
}
