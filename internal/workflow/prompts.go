package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/osteoscope/screening-service/internal/domain"
)

// classificationPrompt asks the model for a binary X-ray verdict plus the
// detected skeletal site.
const classificationPrompt = `Analyze this medical image and determine if it is an X-ray image. ` +
	`Consider factors like bone visibility, grayscale appearance, medical imaging characteristics, ` +
	`and anatomical structures. Return a binary classification.`

// classificationSchema constrains the classification output.
var classificationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"is_xray": {"type": "boolean"},
		"confidence": {"type": "number"},
		"detected_region": {
			"type": "string",
			"enum": ["proximal_femur", "calcaneus", "clavicle", "lumbar_spine", "wrist_radius", "unknown"]
		},
		"reasoning": {"type": "string"}
	},
	"required": ["is_xray", "confidence", "detected_region"]
}`)

// classificationResult is the structured classification verdict.
type classificationResult struct {
	IsXRay         bool    `json:"is_xray"`
	Confidence     float64 `json:"confidence"`
	DetectedRegion string  `json:"detected_region"`
	Reasoning      string  `json:"reasoning"`
}

// roiDetectionPrompt asks the model for the optimal region of interest on the
// already classified radiograph.
func roiDetectionPrompt(region domain.AnatomicalRegion) string {
	return fmt.Sprintf(`Analyze this %s X-ray image and identify the optimal Region of Interest (ROI) `+
		`for osteoporosis analysis. Provide bounding box coordinates and key anatomical landmarks.`, region)
}

// roiDetectionSchema constrains the ROI proposal output.
var roiDetectionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"roi_box": {
			"type": "object",
			"properties": {
				"x": {"type": "number"},
				"y": {"type": "number"},
				"width": {"type": "number"},
				"height": {"type": "number"}
			},
			"required": ["x", "y", "width", "height"]
		},
		"anatomical_landmarks": {"type": "array", "items": {"type": "string"}},
		"roi_description": {"type": "string"}
	},
	"required": ["roi_box"]
}`)

// roiDetectionResult is the structured ROI proposal.
type roiDetectionResult struct {
	ROIBox              domain.ROI `json:"roi_box"`
	AnatomicalLandmarks []string   `json:"anatomical_landmarks"`
	ROIDescription      string     `json:"roi_description"`
}
