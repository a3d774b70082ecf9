package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/osteoscope/screening-service/internal/domain"
)

// buildAnalysisPrompt renders the full pipeline prompt for the detected
// skeletal site. The staged structure mirrors the production model card:
// detection, landmark regression, ROI extraction, trabecular metrics.
func buildAnalysisPrompt(region domain.AnatomicalRegion) string {
	var landmarks string
	switch region {
	case domain.RegionProximalFemur:
		landmarks = "- Femoral head center, neck axis, Ward's triangle vertices"
	case domain.RegionCalcaneus:
		landmarks = "- Posterior tuberosity, sustentaculum tali, anterior process"
	default:
		landmarks = "- Key cortical and trabecular boundaries"
	}

	return fmt.Sprintf(`You are an advanced biomedical AI system implementing the Osteo Scope trabecular bone analysis pipeline for **%s**.

**STAGE 1: MULTI-CLASS BONE DETECTION & SEGMENTATION**
- Implement YOLOv8 or Mask R-CNN architecture for robust bone detection
- Apply negative suppression to eliminate false positives from soft tissue
- Use domain-specific augmentations (contrast, noise, geometric transforms)
- Output: Detection AP score, Dice coefficient, false positive rate
- QA Check: Ensure target bone is correctly identified among multiple bones

**STAGE 2: ANATOMICAL LANDMARK REGRESSION**
- Detect key anatomical landmarks within the target bone region
- For %s:
  %s
- Use coordinate regression with spatial attention mechanisms
- Output: Landmark error in mm, consistency score, anatomical validity
- QA Check: Landmarks must be within anatomically plausible ranges

**STAGE 3: STANDARDIZED ROI EXTRACTION**
- Extract fixed-size ROI (10mm x 10mm) oriented based on landmarks
- Apply perspective correction and standardized scaling
- Ensure ROI captures optimal trabecular bone region
- Output: ROI alignment error, size consistency, orientation accuracy
- QA Check: ROI must be properly oriented and sized

**STAGE 4: HIGH-RESOLUTION TRABECULAR ANALYSIS**
Calculate advanced microstructural metrics:
1. **BV/TV Proxy**: Bone volume fraction from thresholded image
2. **Tb.Th**: Mean trabecular thickness using distance transform
3. **Tb.Sp**: Mean trabecular separation from skeletonization
4. **Anisotropy Index**: Directional variance using MIL method
5. **Connectivity Density**: Euler characteristic analysis
6. **SMI**: Structure Model Index for plate vs rod classification

**DOMAIN ADAPTATION & QUALITY CONTROL**
- Apply histogram normalization for cross-scanner compatibility
- Implement uncertainty quantification using ensemble or dropout
- Flag images that deviate significantly from training domain

**CLINICAL PREDICTIONS WITH ENHANCED ACCURACY**
- Predict BMD using multi-modal regression (texture + landmarks + demographics)
- Calculate T-score with age/gender specific references
- Apply calibration techniques for reliable confidence intervals
- Include Singh Index (1-6) for femur, Jhamaria Index (1-10) for calcaneus

**OUTPUT REQUIREMENTS:**
Return comprehensive quality metrics for each pipeline stage plus final clinical results.`,
		region, region, landmarks)
}

// analysisSchema constrains the pipeline output.
var analysisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"cortical_thickness_mm": {"type": ["number", "null"]},
		"singh_index": {"type": ["number", "null"]},
		"jhamaria_index": {"type": ["number", "null"]},
		"texture_contrast": {"type": "number"},
		"texture_homogeneity": {"type": "number"},
		"texture_energy": {"type": "number"},
		"texture_entropy": {"type": "number"},
		"fractal_dimension": {"type": "number"},
		"predicted_bmd_gm_cm2": {"type": "number"},
		"predicted_t_score": {"type": "number"},
		"predicted_z_score": {"type": "number"},
		"osteoporosis_risk_category": {"type": "string", "enum": ["normal", "osteopenia", "osteoporosis"]},
		"dxa_recommendation": {"type": "string"},
		"confidence_level": {"type": "number"},
		"roi_coordinates": {
			"type": "object",
			"properties": {
				"x": {"type": "number"},
				"y": {"type": "number"},
				"width": {"type": "number"},
				"height": {"type": "number"},
				"anatomical_location": {"type": "string"},
				"segmentation_method": {"type": "string"}
			},
			"required": ["x", "y", "width", "height", "anatomical_location", "segmentation_method"]
		},
		"roi_appropriateness_score": {"type": "number"},
		"roi_quality_flags": {"type": "array", "items": {"type": "string"}},
		"detection_qa_score": {"type": "number"},
		"detection_ap": {"type": "number"},
		"detection_dice": {"type": "number"},
		"false_positive_rate": {"type": "number"},
		"landmark_qa_score": {"type": "number"},
		"landmark_error_mm": {"type": "number"},
		"landmark_consistency": {"type": "number"},
		"anatomical_validity": {"type": "number"},
		"roi_qa_score": {"type": "number"},
		"roi_alignment_error": {"type": "number"},
		"roi_size_mm": {"type": "string"},
		"roi_orientation_accuracy": {"type": "number"},
		"analysis_qa_score": {"type": "number"},
		"bv_tv_proxy": {"type": "number"},
		"trabecular_thickness": {"type": "number"},
		"trabecular_separation": {"type": "number"},
		"anisotropy_index": {"type": "number"},
		"connectivity_density": {"type": "number"},
		"structure_model_index": {"type": "number"},
		"overall_confidence": {"type": "number"},
		"domain_adaptation_score": {"type": "number"},
		"processing_time_ms": {"type": "number"},
		"model_version": {"type": "string"},
		"qa_flags": {"type": "string"}
	},
	"required": [
		"overall_confidence",
		"predicted_bmd_gm_cm2",
		"predicted_t_score",
		"osteoporosis_risk_category",
		"confidence_level",
		"roi_coordinates"
	]
}`)

// pipelineROI is the ROI as reported by the pipeline, carrying placement
// provenance beyond the bare rectangle.
type pipelineROI struct {
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	Width              float64 `json:"width"`
	Height             float64 `json:"height"`
	AnatomicalLocation string  `json:"anatomical_location"`
	SegmentationMethod string  `json:"segmentation_method"`
}

// Serialize encodes the ROI to its persisted string form.
func (r pipelineROI) Serialize() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// analysisResult is the structured pipeline output.
type analysisResult struct {
	CorticalThicknessMM *float64 `json:"cortical_thickness_mm"`
	SinghIndex          *float64 `json:"singh_index"`
	JhamariaIndex       *float64 `json:"jhamaria_index"`

	TextureContrast    float64 `json:"texture_contrast"`
	TextureHomogeneity float64 `json:"texture_homogeneity"`
	TextureEnergy      float64 `json:"texture_energy"`
	TextureEntropy     float64 `json:"texture_entropy"`
	FractalDimension   float64 `json:"fractal_dimension"`

	PredictedBMDGmCm2 float64             `json:"predicted_bmd_gm_cm2"`
	PredictedTScore   float64             `json:"predicted_t_score"`
	PredictedZScore   float64             `json:"predicted_z_score"`
	RiskCategory      domain.RiskCategory `json:"osteoporosis_risk_category"`
	DXARecommendation string              `json:"dxa_recommendation"`
	ConfidenceLevel   float64             `json:"confidence_level"`

	ROICoordinates          pipelineROI `json:"roi_coordinates"`
	ROIAppropriatenessScore float64     `json:"roi_appropriateness_score"`
	ROIQualityFlags         []string    `json:"roi_quality_flags"`

	DetectionQAScore  float64 `json:"detection_qa_score"`
	DetectionAP       float64 `json:"detection_ap"`
	DetectionDice     float64 `json:"detection_dice"`
	FalsePositiveRate float64 `json:"false_positive_rate"`

	LandmarkQAScore     float64 `json:"landmark_qa_score"`
	LandmarkErrorMM     float64 `json:"landmark_error_mm"`
	LandmarkConsistency float64 `json:"landmark_consistency"`
	AnatomicalValidity  float64 `json:"anatomical_validity"`

	ROIQAScore             float64 `json:"roi_qa_score"`
	ROIAlignmentError      float64 `json:"roi_alignment_error"`
	ROISizeMM              string  `json:"roi_size_mm"`
	ROIOrientationAccuracy float64 `json:"roi_orientation_accuracy"`

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
