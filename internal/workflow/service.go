// Package workflow implements the screening workflow state machine. Every
// mutating transition persists the workflow record and appends one audit
// entry; the current step is derivable from persisted fields alone, so a
// workflow survives process restarts and out-of-band admin actions.
package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/osteoscope/screening-service/internal/domain"
	"github.com/osteoscope/screening-service/internal/gateway"
	"github.com/osteoscope/screening-service/internal/notify"
	"github.com/osteoscope/screening-service/internal/observability"
	"github.com/osteoscope/screening-service/internal/store"
)

// Collection names in the entity store.
const (
	workflowCollection = "Workflow"
	auditCollection    = "AuditLog"
)

// Audit event names, one per mutating transition.
const (
	eventWorkflowStarted = "workflow_started"
	eventImageUploaded   = "image_uploaded"
	eventROIDetected     = "roi_detected"
	eventROIApproved     = "roi_approved"
	eventROIAdjusted     = "roi_adjusted"
	eventPaymentClaimed  = "payment_claimed"
	eventAnalysisStarted = "analysis_started"
	eventAnalysisDone    = "analysis_completed"
	eventAnalysisFailed  = "analysis_failed"
	eventPaymentRejected = "payment_rejected"
)

// Params bundles the dependencies of the workflow service.
type Params struct {
	Store    *store.Store
	LLM      gateway.LLMClient
	Uploader gateway.Uploader
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	// AdminEmail receives the payment claim notification.
	AdminEmail string
	// PaymentAmountINR is the screening fee recorded on each workflow.
	PaymentAmountINR int
}

// Service drives workflows through their transitions.
type Service struct {
	workflows *store.Collection[domain.Workflow]
	audit     *store.Collection[domain.AuditEntry]
	llm       gateway.LLMClient
	uploader  gateway.Uploader
	notifier  notify.Notifier
	metrics   *observability.Metrics
	logger    zerolog.Logger

	adminEmail       string
	paymentAmountINR int
}

// NewService creates the workflow service.
func NewService(p Params) *Service {
	return &Service{
		workflows:        store.NewCollection[domain.Workflow](p.Store, workflowCollection),
		audit:            store.NewCollection[domain.AuditEntry](p.Store, auditCollection),
		llm:              p.LLM,
		uploader:         p.Uploader,
		notifier:         p.Notifier,
		metrics:          p.Metrics,
		logger:           p.Logger.With().Str("component", "workflow").Logger(),
		adminEmail:       p.AdminEmail,
		paymentAmountINR: p.PaymentAmountINR,
	}
}

// StartRequest carries the fields needed to open a new workflow.
type StartRequest struct {
	UserEmail     string
	PatientName   string
	PatientAge    int
	PatientGender string
}

// Start opens a new workflow at the upload step.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Workflow, error) {
	if strings.TrimSpace(req.UserEmail) == "" {
		return nil, domain.NewValidationError("user_email", "must not be empty")
	}
	if strings.TrimSpace(req.PatientName) == "" {
		return nil, domain.NewValidationError("patient_name", "must not be empty")
	}
	if req.PatientAge < 0 || req.PatientAge > 120 {
		return nil, domain.NewValidationError("patient_age", "must be between 0 and 120 (0 means unknown)")
	}

	wf, err := s.workflows.Create(ctx, domain.Workflow{
		UserEmail:        req.UserEmail,
		PatientName:      req.PatientName,
		PatientAge:       req.PatientAge,
		PatientGender:    req.PatientGender,
		WorkflowStep:     domain.StepUpload,
		PaymentStatus:    domain.PaymentPending,
		PaymentAmountINR: s.paymentAmountINR,
	})
	if err != nil {
		return nil, err
	}

	if err := s.appendAudit(ctx, wf.ID, eventWorkflowStarted, map[string]any{
		"user_email": req.UserEmail,
	}); err != nil {
		return nil, err
	}

	s.metrics.RecordWorkflowStarted()
	wfLog := observability.WithWorkflowContext(s.logger, wf.ID, string(wf.WorkflowStep))
	wfLog.Info().Msg("workflow started")
	return &wf, nil
}

// Get returns the workflow with the given id. Records whose persisted fields
// describe an impossible state are rejected here rather than surfaced to
// callers half-broken.
func (s *Service) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// List returns workflows newest first, optionally restricted to one owner.
// Records whose persisted fields describe an impossible state are dropped from
// the listing, the same check Get applies.
func (s *Service) List(ctx context.Context, userEmail string) ([]domain.Workflow, error) {
	where := store.Record{}
	if userEmail != "" {
		where["user_email"] = userEmail
	}
	wfs, err := s.workflows.Filter(ctx, where, "-created_date", 0)
	if err != nil {
		return nil, err
	}

	valid := wfs[:0]
	for i := range wfs {
		if err := wfs[i].Validate(); err != nil {
			s.logger.Warn().Err(err).Str("workflow_id", wfs[i].ID).
				Msg("skipping workflow with inconsistent persisted state")
			continue
		}
		valid = append(valid, wfs[i])
	}
	return valid, nil
}

// Audit returns the audit trail of a workflow, newest first.
func (s *Service) Audit(ctx context.Context, workflowID string) ([]domain.AuditEntry, error) {
	if _, err := s.workflows.Get(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.audit.Filter(ctx, store.Record{"workflow_id": workflowID}, "-created_date", 0)
}

// UploadImage stores the image, classifies it, and on a confirmed X-ray
// advances the workflow to ROI detection. A not-an-X-ray verdict returns a
// ClassificationRejection and persists nothing from the attempt.
func (s *Service) UploadImage(ctx context.Context, id, fileName, contentType string, r io.Reader) (*domain.Workflow, error) {
	wf, err := s.requireStep(ctx, id, "upload_image", domain.StepUpload)
	if err != nil {
		return nil, err
	}

	upload, err := s.uploader.Upload(ctx, fileName, contentType, r)
	if err != nil {
		s.metrics.RecordTransitionFailed("upload_image", "upload_error")
		return nil, fmt.Errorf("store uploaded image: %w", err)
	}
	s.metrics.RecordUpload()

	var verdict classificationResult
	err = gateway.InvokeStructured(ctx, s.llm, gateway.Invocation{
		Operation:  "classify_image",
		Prompt:     classificationPrompt,
		FileURLs:   []string{upload.FileURL},
		Schema:     classificationSchema,
		SchemaName: "xray_classification",
	}, &verdict)
	if err != nil {
		s.metrics.RecordTransitionFailed("upload_image", "llm_error")
		return nil, err
	}

	if !verdict.IsXRay {
		s.metrics.RecordClassificationRejection()
		s.metrics.RecordTransitionFailed("upload_image", "not_an_xray")
		wfLog := observability.WithWorkflowContext(s.logger, wf.ID, string(wf.WorkflowStep))
		wfLog.Info().Float64("confidence", verdict.Confidence).Msg("upload rejected: not an x-ray")
		return nil, &domain.ClassificationRejection{
			Reason:     verdict.Reasoning,
			Confidence: verdict.Confidence,
		}
	}

	region := domain.AnatomicalRegion(verdict.DetectedRegion)
	if !isKnownRegion(region) {
		region = domain.RegionUnknown
	}

	updated, err := s.persist(ctx, id, store.Record{
		"uploaded_image_url":         upload.FileURL,
		"uploaded_file_name":         upload.FileName,
		"is_xray_confirmed":          true,
		"detected_anatomical_region": string(region),
		"workflow_step":              string(domain.StepROIDetection),
	}, eventImageUploaded, map[string]any{
		"detected_anatomical_region": string(region),
		"confidence":                 verdict.Confidence,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition("upload_image")
	return updated, nil
}

// DetectROI asks the model for an ROI proposal and advances the workflow to
// ROI approval.
func (s *Service) DetectROI(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := s.requireStep(ctx, id, "detect_roi", domain.StepROIDetection)
	if err != nil {
		return nil, err
	}

	var proposal roiDetectionResult
	err = gateway.InvokeStructured(ctx, s.llm, gateway.Invocation{
		Operation:  "detect_roi",
		Prompt:     roiDetectionPrompt(wf.DetectedRegion),
		FileURLs:   []string{wf.UploadedImageURL},
		Schema:     roiDetectionSchema,
		SchemaName: "roi_detection",
	}, &proposal)
	if err != nil {
		s.metrics.RecordTransitionFailed("detect_roi", "llm_error")
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"roi_coordinates": proposal.ROIBox.Serialize(),
		"workflow_step":   string(domain.StepROIApproval),
	}, eventROIDetected, map[string]any{
		"roi_description": proposal.ROIDescription,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition("detect_roi")
	return updated, nil
}

// ApproveROI accepts the proposed ROI and advances the workflow to payment.
func (s *Service) ApproveROI(ctx context.Context, id string) (*domain.Workflow, error) {
	if _, err := s.requireStep(ctx, id, "approve_roi", domain.StepROIApproval); err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"roi_approved":  true,
		"workflow_step": string(domain.StepPayment),
	}, eventROIApproved, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition("approve_roi")
	return updated, nil
}

// AdjustROI discards the proposed ROI and returns the workflow to ROI
// detection for a fresh proposal.
func (s *Service) AdjustROI(ctx context.Context, id string) (*domain.Workflow, error) {
	if _, err := s.requireStep(ctx, id, "adjust_roi", domain.StepROIApproval); err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"roi_coordinates": "",
		"roi_approved":    false,
		"workflow_step":   string(domain.StepROIDetection),
	}, eventROIAdjusted, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition("adjust_roi")
	return updated, nil
}

// ClaimPayment records the user's payment claim, parks the workflow for admin
// verification, and notifies the admin side-channel. Notification failure
// does not fail the transition.
func (s *Service) ClaimPayment(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := s.requireStep(ctx, id, "claim_payment", domain.StepPayment)
	if err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"payment_status": string(domain.PaymentAwaitingVerification),
		"workflow_step":  string(domain.StepAwaitingVerification),
	}, eventPaymentClaimed, map[string]any{
		"amount_inr": wf.PaymentAmountINR,
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, notify.Email{
		To:      s.adminEmail,
		Subject: "New Payment Confirmation Submitted",
		Body: fmt.Sprintf(
			"A new payment confirmation has been submitted:\n\n"+
				"User: %s\nPatient: %s\nWorkflow ID: %s\nAmount: ₹%d\nRegion: %s\n\n"+
				"Please verify the payment in the admin panel.",
			wf.UserEmail, wf.PatientName, wf.ID, wf.PaymentAmountINR, wf.DetectedRegion),
	})

	s.metrics.RecordTransition("claim_payment")
	return updated, nil
}

// BeginAnalysis marks a verified workflow as being analyzed. It is invoked by
// the admin queue after payment approval, before the pipeline runs.
func (s *Service) BeginAnalysis(ctx context.Context, id string) (*domain.Workflow, error) {
	if _, err := s.requireStep(ctx, id, "begin_analysis", domain.StepAwaitingVerification); err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"workflow_step": string(domain.StepAnalysisInProgress),
	}, eventAnalysisStarted, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition("begin_analysis")
	return updated, nil
}

// CompleteAnalysis records the finished analysis, marks the payment verified,
// and mails the owner. Invoked by the admin queue after a pipeline success.
func (s *Service) CompleteAnalysis(ctx context.Context, id, analysisID string) (*domain.Workflow, error) {
	wf, err := s.requireStep(ctx, id, "complete_analysis", domain.StepAnalysisInProgress)
	if err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"analysis_id":    analysisID,
		"workflow_step":  string(domain.StepCompleted),
		"payment_status": string(domain.PaymentVerified),
	}, eventAnalysisDone, map[string]any{
		"analysis_id": analysisID,
	})
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, notify.Email{
		To:      wf.UserEmail,
		Subject: "Your X-ray Analysis Results are Ready!",
		Body: fmt.Sprintf(
			"Hi,\n\nGreat news! Your X-ray analysis is now complete.\n\n"+
				"Analysis Details:\n- Patient: %s\n- Request ID: #%s\n- Region Analyzed: %s\n\n"+
				"You can view your detailed results by logging into the OsteoScope app.\n\n"+
				"Note: This analysis is for research purposes only. Please consult a qualified doctor for medical decisions.",
			wf.PatientName, shortID(wf.ID), wf.DetectedRegion),
	})

	s.metrics.RecordTransition("complete_analysis")
	return updated, nil
}

// FailAnalysis records a pipeline failure on the workflow. The step becomes
// terminal; the error message is preserved for the owner and the audit trail.
func (s *Service) FailAnalysis(ctx context.Context, id, message string) (*domain.Workflow, error) {
	if _, err := s.requireStep(ctx, id, "fail_analysis",
		domain.StepAnalysisInProgress, domain.StepAwaitingVerification); err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"workflow_step": string(domain.StepAnalysisFailed),
		"error_message": message,
	}, eventAnalysisFailed, map[string]any{
		"error_message": message,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition("fail_analysis")
	return updated, nil
}

// RejectPayment marks the payment as failed. The step is left untouched; the
// derived step routes the owner back to the payment retry screen.
func (s *Service) RejectPayment(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := s.requireStep(ctx, id, "reject_payment", domain.StepAwaitingVerification)
	if err != nil {
		return nil, err
	}

	updated, err := s.persist(ctx, id, store.Record{
		"payment_status": string(domain.PaymentFailed),
	}, eventPaymentRejected, nil)
	if err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, notify.Email{
		To:      wf.UserEmail,
		Subject: "Action Required: Issue with your X-ray Analysis Payment",
		Body: fmt.Sprintf(
			"Hi,\n\nWe encountered an issue while verifying your payment for X-ray analysis.\n\n"+
				"Request Details:\n- Patient: %s\n- Request ID: #%s\n- Amount: ₹%d\n\n"+
				"Please contact support or try making the payment again.",
			wf.PatientName, shortID(wf.ID), wf.PaymentAmountINR),
	})

	s.metrics.RecordTransition("reject_payment")
	return updated, nil
}

// requireStep loads the workflow and checks that its derived step is one of
// the allowed entry steps for the transition.
func (s *Service) requireStep(ctx context.Context, id, transition string, allowed ...domain.WorkflowStep) (*domain.Workflow, error) {
	wf, err := s.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	current := wf.DeriveStep()
	for _, step := range allowed {
		if current == step {
			return &wf, nil
		}
	}

	s.metrics.RecordTransitionFailed(transition, "invalid_state")
	return nil, &domain.InvalidStateError{
		WorkflowID: wf.ID,
		Step:       current,
		Message:    fmt.Sprintf("transition %s not allowed", transition),
	}
}

// persist applies the patch and appends the matching audit entry. A failed
// audit append fails the transition so the trail never lags the record.
func (s *Service) persist(ctx context.Context, id string, patch store.Record, event string, details map[string]any) (*domain.Workflow, error) {
	wf, err := s.workflows.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, id, event, details); err != nil {
		return nil, err
	}
	wfLog := observability.WithWorkflowContext(s.logger, wf.ID, string(wf.WorkflowStep))
	wfLog.Info().Str("event", event).Msg("workflow transition")
	return &wf, nil
}

func (s *Service) appendAudit(ctx context.Context, workflowID, event string, details map[string]any) error {
	if _, err := s.audit.Create(ctx, domain.AuditEntry{
		WorkflowID: workflowID,
		Event:      event,
		Details:    details,
	}); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Service) notifyBestEffort(ctx context.Context, email notify.Email) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendEmail(ctx, email); err != nil {
		s.logger.Warn().Err(err).Str("to", email.To).Msg("notification failed")
	}
}

func isKnownRegion(region domain.AnatomicalRegion) bool {
	for _, r := range domain.KnownRegions() {
		if r == region {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
