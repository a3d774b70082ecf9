package domain

import "time"

// XRayAnalysis holds the clinical and quantitative output of one completed
// analysis. It is created exactly once, by the admin-triggered pipeline, and
// is immutable afterwards except for its status field. The owning workflow
// references it via analysis_id.
type XRayAnalysis struct {
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"created_date"`

	PatientName   string `json:"patient_name"`
	PatientAge    int    `json:"patient_age"`
	PatientGender string `json:"patient_gender"`

	ImageURL         string           `json:"image_url"`
	AnatomicalRegion AnatomicalRegion `json:"anatomical_region"`
	AnalysisStatus   AnalysisStatus   `json:"analysis_status"`
	AnalysisNotes    string           `json:"analysis_notes,omitempty"`

	// Clinical predictions.
	PredictedBMDGmCm2 float64      `json:"predicted_bmd_gm_cm2"`
	PredictedTScore   float64      `json:"predicted_t_score"`
	PredictedZScore   float64      `json:"predicted_z_score,omitempty"`
	RiskCategory      RiskCategory `json:"osteoporosis_risk_category"`
	DXARecommendation string       `json:"dxa_recommendation,omitempty"`
	ConfidenceLevel   float64      `json:"confidence_level"`

	// Region-specific radiographic indices.
	CorticalThicknessMM *float64 `json:"cortical_thickness_mm,omitempty"`
	SinghIndex          *float64 `json:"singh_index,omitempty"`
	JhamariaIndex       *float64 `json:"jhamaria_index,omitempty"`

	// GLCM texture metrics.
	TextureContrast    float64 `json:"texture_contrast,omitempty"`
	TextureHomogeneity float64 `json:"texture_homogeneity,omitempty"`
	TextureEnergy      float64 `json:"texture_energy,omitempty"`
	TextureEntropy     float64 `json:"texture_entropy,omitempty"`
	FractalDimension   float64 `json:"fractal_dimension,omitempty"`

	// ROI placement quality.
	ROICoordinates   string   `json:"roi_coordinates"`
	ROIQualityScore  float64  `json:"roi_appropriateness_score,omitempty"`
	ROIQualityFlags  []string `json:"roi_quality_flags,omitempty"`
	AnalysisErrorMsg string   `json:"error_message,omitempty"`
}

// TrabecularAnalysis holds the per-stage quality metrics of the trabecular
// pipeline for one XRayAnalysis, keyed by xray_analysis_id. Cross-entity
// references are informational strings, not enforced relations.
type TrabecularAnalysis struct {
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"created_date"`

	XRayAnalysisID string `json:"xray_analysis_id"`

	// Stage 1: detection and segmentation.
	DetectionQAScore  float64 `json:"detection_qa_score"`
	DetectionAP       float64 `json:"detection_ap"`
	DetectionDice     float64 `json:"detection_dice"`
	FalsePositiveRate float64 `json:"false_positive_rate"`

	// Stage 2: landmark regression.
	LandmarkQAScore     float64 `json:"landmark_qa_score"`
	LandmarkErrorMM     float64 `json:"landmark_error_mm"`
	LandmarkConsistency float64 `json:"landmark_consistency"`
	AnatomicalValidity  float64 `json:"anatomical_validity"`

	// Stage 3: ROI extraction.
	ROIQAScore             float64 `json:"roi_qa_score"`
	ROIAlignmentError      float64 `json:"roi_alignment_error"`
	ROISizeMM              string  `json:"roi_size_mm"`
	ROIOrientationAccuracy float64 `json:"roi_orientation_accuracy"`

	// Stage 4: microstructural metrics.
	AnalysisQAScore       float64 `json:"analysis_qa_score"`
	BVTVProxy             float64 `json:"bv_tv_proxy"`
	TrabecularThickness   float64 `json:"trabecular_thickness"`
	TrabecularSeparation  float64 `json:"trabecular_separation"`
	AnisotropyIndex       float64 `json:"anisotropy_index"`
	ConnectivityDensity   float64 `json:"connectivity_density"`
	StructureModelIndex   float64 `json:"structure_model_index"`
	OverallConfidence     float64 `json:"overall_confidence"`
	DomainAdaptationScore float64 `json:"domain_adaptation_score"`
	ProcessingTimeMS      float64 `json:"processing_time_ms"`
	ModelVersion          string  `json:"model_version"`
	QAFlags               string  `json:"qa_flags"`
}

// User is a registered account. The first user in the store is seeded as a
// demo administrator when the collection is empty.
type User struct {
	ID          string    `json:"id"`
	CreatedDate time.Time `json:"created_date"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
}

// AuditEntry is one append-only record of a workflow mutation. Entries live
// in their own collection keyed by workflow_id rather than inline on the
// workflow record, so a long-lived workflow does not grow without bound.
type AuditEntry struct {
	ID          string         `json:"id"`
	CreatedDate time.Time      `json:"created_date"`
	WorkflowID  string         `json:"workflow_id"`
	Event       string         `json:"event"`
	Details     map[string]any `json:"details,omitempty"`
}
