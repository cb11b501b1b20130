package domain

import (
	"time"
)

// Risk levels, ordered from benign to worst. The tiered policy uses
// NORMAL/LOW/MEDIUM/HIGH; the binary policy uses SAFE/RISK. UNKNOWN is
// returned when no trained model is loaded, ERROR when scoring itself failed.
const (
	RiskNormal  = "NORMAL"
	RiskLow     = "LOW"
	RiskMedium  = "MEDIUM"
	RiskHigh    = "HIGH"
	RiskSafe    = "SAFE"
	RiskFlagged = "RISK"
	RiskUnknown = "UNKNOWN"
	RiskError   = "ERROR"
)

// Recommendations, monotonic with severity.
const (
	RecommendApprove      = "APPROVE"
	RecommendVerifyDocs   = "VERIFY_DOCUMENTS"
	RecommendManualReview = "MANUAL_REVIEW"
	RecommendReject       = "REJECT"
)

// Assessment is the complete scoring result for one application.
type Assessment struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	RiskScore     float64   `json:"riskScore"` // blended, in [0,1]
	RiskLevel     string    `json:"riskLevel"`
	IsFlagged     bool      `json:"isFlagged"`
	Reasons       []string  `json:"reasons,omitempty"`
	Recommend     string    `json:"recommendation"`
	Timestamp     time.Time `json:"timestamp"`

	// Rule findings that contributed to the decision
	Findings []Finding `json:"findings,omitempty"`

	// Model sub-scores and selected engineered features
	Details AssessmentDetails `json:"details"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentDetails carries model sub-scores. XGBoostScore is nil whenever the
// supervised classifier is absent (anomaly-only degraded mode).
type AssessmentDetails struct {
	IsolationScore  float64  `json:"isolationScore"`
	IsolationOutlier bool    `json:"isolationAnomaly"`
	XGBoostScore    *float64 `json:"xgboostScore"`
	QuantityPerHa   float64  `json:"quantityPerHectare"`
	QuantityVsAllowed float64 `json:"quantityVsAllowed"`
	AllowedQuantity float64  `json:"allowedQuantity"`
	DistanceKm      *float64 `json:"distanceFarmerToDealerKm"` // nil when coordinates unknown
	GhostFarmer     bool     `json:"ghostFarmer"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	FeatureMs      int64  `json:"featureMs"`
	ModelMs        int64  `json:"modelMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	ModelVersion   string `json:"modelVersion,omitempty"`
	EngineVersion  string `json:"engineVersion"`
}

// ScoreResponse is the API response for a scoring call.
type ScoreResponse struct {
	AssessmentID  string             `json:"assessmentId"`
	ApplicationID string             `json:"applicationId"`
	FraudScore    float64            `json:"fraudScore"`
	IsFraud       bool               `json:"isFraud"`
	RiskLevel     string             `json:"riskLevel"`
	Recommend     string             `json:"recommendation"`
	Reasons       []string           `json:"reasons,omitempty"`
	Details       AssessmentDetails  `json:"details"`
	Metadata      AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *ScoreResponse {
	return &ScoreResponse{
		AssessmentID:  a.ID,
		ApplicationID: a.ApplicationID,
		FraudScore:    a.RiskScore,
		IsFraud:       a.IsFlagged,
		RiskLevel:     a.RiskLevel,
		Recommend:     a.Recommend,
		Reasons:       a.Reasons,
		Details:       a.Details,
		Metadata:      a.Metadata,
	}
}
