package model

import "time"

// Entity is one extracted typed value with its own confidence.
type Entity struct {
	Type       string  `bson:"type" json:"type"`
	Value      string  `bson:"value" json:"value"`
	Confidence float64 `bson:"confidence" json:"confidence"`
}

// AnalyzerOutput is the response of one independent analysis backend.
type AnalyzerOutput struct {
	AnalyzerID string   `bson:"analyzer_id" json:"analyzer_id"`
	Summary    string   `bson:"summary" json:"summary"`
	Insights   []string `bson:"insights" json:"insights"`
	Confidence float64  `bson:"confidence" json:"confidence"`
	Entities   []Entity `bson:"entities,omitempty" json:"entities,omitempty"`
}

// ConsensusResult is the fused result across all analyzers that ran for one
// document. Computed once per run and never mutated.
type ConsensusResult struct {
	Summary                string   `bson:"summary" json:"summary"`
	Confidence             float64  `bson:"confidence" json:"confidence"`
	KeyFindings            []string `bson:"key_findings" json:"key_findings"`
	RecommendedAnalyzer    string   `bson:"recommended_analyzer" json:"recommended_analyzer"`
	AccuracyScore          float64  `bson:"accuracy_score" json:"accuracy_score"`
	AdvancedProcessingUsed bool     `bson:"advanced_processing_used" json:"advanced_processing_used"`
}

// Discrepancy is one field where the verification pass disagreed with the
// original consensus extraction.
type Discrepancy struct {
	Field         string  `bson:"field" json:"field"`
	OriginalValue string  `bson:"original_value" json:"original_value"`
	VerifiedValue string  `bson:"verified_value" json:"verified_value"`
	Confidence    float64 `bson:"confidence" json:"confidence"`
	Reason        string  `bson:"reason" json:"reason"`
}

// VerificationResult is the audit record produced by the verification pass.
// Persisted alongside the document; corrections produce a new record.
type VerificationResult struct {
	VerifiedExtraction string        `bson:"verified_extraction" json:"verified_extraction"`
	UncertaintyScore   float64       `bson:"uncertainty_score" json:"uncertainty_score"`
	Discrepancies      []Discrepancy `bson:"discrepancies,omitempty" json:"discrepancies,omitempty"`
	NeedsManualReview  bool          `bson:"needs_manual_review" json:"needs_manual_review"`
	ReviewReason       string        `bson:"review_reason,omitempty" json:"review_reason,omitempty"`
	VerifiedAt         time.Time     `bson:"verified_at" json:"verified_at"`
}
