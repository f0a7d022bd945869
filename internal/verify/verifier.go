// Package verify runs the independent second-pass check of a consensus
// result against the source text.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"docsense/internal/analyzer"
	"docsense/internal/config"
	"docsense/internal/model"
	"docsense/internal/profile"
)

// maxReviewReasonFields bounds how many low-confidence fields are named in a
// review reason before collapsing to "+N more".
const maxReviewReasonFields = 3

// DecisionLogger records one append-only audit entry per verification run.
type DecisionLogger interface {
	AppendDecisionLog(ctx context.Context, record model.DecisionLogRecord) error
}

// Verifier re-checks consensus output through a second analyzer instance.
type Verifier struct {
	backend analyzer.Analyzer
	logs    DecisionLogger
	cfg     config.VerificationConfig
}

// New creates a verifier backed by the given check-capable analyzer.
func New(backend analyzer.Analyzer, logs DecisionLogger, cfg config.VerificationConfig) *Verifier {
	return &Verifier{
		backend: backend,
		logs:    logs,
		cfg:     cfg,
	}
}

// Verify presents the consensus extraction plus the raw source text to the
// backend, instructed to check rather than re-extract, and grades the
// disagreement. Every invocation appends a decision-log record, including
// failed ones.
func (v *Verifier) Verify(ctx context.Context, documentID string, consensus *model.ConsensusResult, sourceText string, prof profile.Profile) (*model.VerificationResult, error) {
	start := time.Now()

	extraction := consensusSnapshot(consensus)

	timeout := time.Duration(v.cfg.TimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	response, err := v.backend.Check(ctx, analyzer.CheckRequest{
		Extraction: extraction,
		SourceText: sourceText,
		Prompt:     prof.Spec().CheckPromptTemplate,
	})
	if err != nil {
		v.appendLog(documentID, extraction, fmt.Sprintf("verification failed: %v", err), 0, start)
		return nil, fmt.Errorf("verification pass failed: %w", err)
	}

	result := &model.VerificationResult{
		VerifiedExtraction: response.VerifiedExtraction,
		Discrepancies:      response.Discrepancies,
		UncertaintyScore:   UncertaintyScore(response.Discrepancies),
		VerifiedAt:         time.Now(),
	}

	if result.UncertaintyScore > v.cfg.UncertaintyThreshold {
		result.NeedsManualReview = true
		result.ReviewReason = reviewReason(response.Discrepancies)
	}

	v.appendLog(documentID, extraction, verdictSnapshot(result), 1-result.UncertaintyScore, start)

	log.Info().
		Str("documentId", documentID).
		Float64("uncertainty", result.UncertaintyScore).
		Int("discrepancies", len(result.Discrepancies)).
		Bool("needsManualReview", result.NeedsManualReview).
		Dur("duration", time.Since(start)).
		Msg("Verification pass completed")

	return result, nil
}

// UncertaintyScore is the mean of (1 - confidence) across reported
// discrepancies, 0 when there are none.
func UncertaintyScore(discrepancies []model.Discrepancy) float64 {
	if len(discrepancies) == 0 {
		return 0
	}

	total := 0.0
	for _, d := range discrepancies {
		total += 1 - d.Confidence
	}
	return total / float64(len(discrepancies))
}

// reviewReason names the low-confidence fields that triggered review, up to
// maxReviewReasonFields, with a "+N more" suffix for the rest.
func reviewReason(discrepancies []model.Discrepancy) string {
	fields := make([]string, 0, len(discrepancies))
	for _, d := range discrepancies {
		fields = append(fields, d.Field)
	}

	if len(fields) <= maxReviewReasonFields {
		return fmt.Sprintf("low confidence fields: %s", strings.Join(fields, ", "))
	}

	shown := strings.Join(fields[:maxReviewReasonFields], ", ")
	return fmt.Sprintf("low confidence fields: %s, +%d more", shown, len(fields)-maxReviewReasonFields)
}

func (v *Verifier) appendLog(documentID, input, output string, confidence float64, start time.Time) {
	if v.logs == nil {
		return
	}

	record := model.DecisionLogRecord{
		DocumentID: documentID,
		Stage:      string(model.StageVerifying),
		Input:      input,
		Output:     output,
		Confidence: confidence,
		ElapsedMs:  time.Since(start).Milliseconds(),
		CreatedAt:  time.Now(),
	}

	// The log is an audit aid; a failed append never affects the pipeline.
	if err := v.logs.AppendDecisionLog(context.Background(), record); err != nil {
		log.Warn().Err(err).Str("documentId", documentID).Msg("Failed to append decision log record")
	}
}

func consensusSnapshot(consensus *model.ConsensusResult) string {
	raw, err := json.Marshal(consensus)
	if err != nil {
		return consensus.Summary
	}
	return string(raw)
}

func verdictSnapshot(result *model.VerificationResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return result.VerifiedExtraction
	}
	return string(raw)
}
