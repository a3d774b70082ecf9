// Package domain provides domain models and business logic for the OsteoScope
// screening service.
package domain

import (
	"encoding/json"
	"fmt"
)

// WorkflowStep represents the lifecycle states of an analysis workflow.
// These values are persisted verbatim in the entity store.
type WorkflowStep string

const (
	StepUpload               WorkflowStep = "upload"
	StepROIDetection         WorkflowStep = "roi_detection"
	StepROIApproval          WorkflowStep = "roi_approval"
	StepPayment              WorkflowStep = "payment"
	StepAwaitingVerification WorkflowStep = "awaiting_verification"
	StepAnalysisInProgress   WorkflowStep = "analysis_in_progress"
	StepCompleted            WorkflowStep = "completed"
	StepAnalysisFailed       WorkflowStep = "analysis_failed"
)

// IsTerminal returns true if the step represents a final state that will not change.
func (s WorkflowStep) IsTerminal() bool {
	switch s {
	case StepCompleted, StepAnalysisFailed:
		return true
	default:
		return false
	}
}

// IsValidWorkflowStep reports whether s is a known workflow step.
func IsValidWorkflowStep(s WorkflowStep) bool {
	switch s {
	case StepUpload, StepROIDetection, StepROIApproval, StepPayment,
		StepAwaitingVerification, StepAnalysisInProgress, StepCompleted, StepAnalysisFailed:
		return true
	default:
		return false
	}
}

// PaymentStatus represents the payment verification state of a workflow.
type PaymentStatus string

const (
	PaymentPending              PaymentStatus = "pending"
	PaymentAwaitingVerification PaymentStatus = "awaiting_verification"
	PaymentVerified             PaymentStatus = "verified"
	PaymentFailed               PaymentStatus = "failed"
	PaymentManualVerification   PaymentStatus = "manual_verification"
)

// IsValidPaymentStatus reports whether s is a known payment status.
func IsValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentPending, PaymentAwaitingVerification, PaymentVerified,
		PaymentFailed, PaymentManualVerification:
		return true
	default:
		return false
	}
}

// AnatomicalRegion is the skeletal site detected on the uploaded X-ray.
type AnatomicalRegion string

const (
	RegionProximalFemur AnatomicalRegion = "proximal_femur"
	RegionCalcaneus     AnatomicalRegion = "calcaneus"
	RegionClavicle      AnatomicalRegion = "clavicle"
	RegionLumbarSpine   AnatomicalRegion = "lumbar_spine"
	RegionWristRadius   AnatomicalRegion = "wrist_radius"
	RegionUnknown       AnatomicalRegion = "unknown"
)

// KnownRegions lists every anatomical region the classifier may return.
func KnownRegions() []AnatomicalRegion {
	return []AnatomicalRegion{
		RegionProximalFemur, RegionCalcaneus, RegionClavicle,
		RegionLumbarSpine, RegionWristRadius, RegionUnknown,
	}
}

// RiskCategory is the WHO osteoporosis classification derived from the T-score.
type RiskCategory string

const (
	RiskNormal       RiskCategory = "normal"
	RiskOsteopenia   RiskCategory = "osteopenia"
	RiskOsteoporosis RiskCategory = "osteoporosis"
)

// AnalysisStatus is the lifecycle status of an XRayAnalysis record.
type AnalysisStatus string

const (
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// ROI is the sub-rectangle of an X-ray image selected for quantitative analysis.
type ROI struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Serialize encodes the ROI to its persisted string form.
func (r ROI) Serialize() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// ParseROI decodes a persisted ROI string.
func ParseROI(s string) (ROI, error) {
	var r ROI
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return ROI{}, fmt.Errorf("parse roi coordinates: %w", err)
	}
	return r, nil
}
