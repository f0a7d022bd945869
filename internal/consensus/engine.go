// Package consensus fuses the outputs of several independent analyzers into
// one confidence-calibrated result.
package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog/log"

	"docsense/internal/config"
	"docsense/internal/model"
)

// Finding score weights. Base plus bonuses for detail and signal keywords.
const (
	findingBaseScore     = 1.0
	findingLengthPerChar = 0.002
	findingLengthCap     = 0.5
	highKeywordBonus     = 0.6
	mediumKeywordBonus   = 0.25
	digitBonus           = 0.15
	acronymBonus         = 0.15

	summaryDetailPerChar = 0.0005
	summaryDetailCap     = 0.2

	richnessPerItem = 0.02
	richnessCap     = 0.2
	summaryLenCap   = 0.1
)

// Signals are the independent quality indicators that feed accuracy
// calibration. They come from the extraction stage, not the analyzers.
type Signals struct {
	OCRConfidence        float64
	StructuredExtraction bool
	StructuralComplexity bool
	VisionRegionUsed     bool
}

// Engine computes consensus results. Weights come from the document's
// profile, keyed by analyzer id; analyzers without a configured weight get
// 1.0.
type Engine struct {
	cfg config.ConsensusConfig
}

// NewEngine creates a consensus engine.
func NewEngine(cfg config.ConsensusConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Consense fuses 1..N analyzer outputs. With a single output the summary and
// confidence pass through undistorted.
func (e *Engine) Consense(outputs []model.AnalyzerOutput, baseWeights map[string]float64, signals Signals) (*model.ConsensusResult, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("consensus requires at least one analyzer output")
	}

	weights := e.confidenceWeights(outputs, baseWeights)

	summary := e.selectSummary(outputs, weights)
	findings := e.rankFindings(e.dedupeFindings(outputs))

	confidence := 0.0
	for i, output := range outputs {
		confidence += weights[i] * output.Confidence
	}
	confidence = clamp(confidence, 0, 1)

	accuracy, signalCount := e.calibrate(confidence, len(outputs), signals)

	result := &model.ConsensusResult{
		Summary:                summary,
		Confidence:             confidence,
		KeyFindings:            findings,
		RecommendedAnalyzer:    recommendAnalyzer(outputs),
		AccuracyScore:          accuracy,
		AdvancedProcessingUsed: len(outputs) > 1 || signals.VisionRegionUsed,
	}

	log.Debug().
		Int("analyzers", len(outputs)).
		Int("findings", len(findings)).
		Int("qualitySignals", signalCount).
		Float64("confidence", confidence).
		Float64("accuracyScore", accuracy).
		Str("recommended", result.RecommendedAnalyzer).
		Msg("Consensus computed")

	return result, nil
}

// confidenceWeights builds the per-output weight vector: base weight per
// analyzer identity, boosted for rich output, renormalized to sum to 1.
func (e *Engine) confidenceWeights(outputs []model.AnalyzerOutput, baseWeights map[string]float64) []float64 {
	weights := make([]float64, len(outputs))
	total := 0.0

	for i, output := range outputs {
		w := 1.0
		if base, ok := baseWeights[output.AnalyzerID]; ok && base > 0 {
			w = base
		}
		if len(output.Insights)+len(output.Entities) > e.cfg.RichnessThreshold {
			w *= 1 + e.cfg.RichnessBoost
		}
		weights[i] = w
		total += w
	}

	if total <= 0 {
		uniform := 1.0 / float64(len(outputs))
		for i := range weights {
			weights[i] = uniform
		}
		return weights
	}

	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// selectSummary picks the single highest-scoring candidate summary. Scores
// blend the source analyzer's weighted confidence with a detail bonus;
// summaries are never concatenated.
func (e *Engine) selectSummary(outputs []model.AnalyzerOutput, weights []float64) string {
	best := 0
	bestScore := -1.0

	for i, output := range outputs {
		score := weights[i]*output.Confidence + detailBonus(output.Summary)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	return outputs[best].Summary
}

func detailBonus(summary string) float64 {
	bonus := float64(len(summary)) * summaryDetailPerChar
	if bonus > summaryDetailCap {
		return summaryDetailCap
	}
	return bonus
}

// dedupeFindings pools every insight across analyzers and collapses findings
// that state the same underlying fact, keeping the more detailed text.
func (e *Engine) dedupeFindings(outputs []model.AnalyzerOutput) []string {
	var unique []string

	for _, output := range outputs {
		for _, finding := range output.Insights {
			finding = strings.TrimSpace(finding)
			if finding == "" {
				continue
			}

			duplicate := -1
			for i, existing := range unique {
				if similarity(existing, finding) > e.cfg.SimilarityThreshold {
					duplicate = i
					break
				}
			}

			if duplicate < 0 {
				unique = append(unique, finding)
			} else if len(finding) > len(unique[duplicate]) {
				unique[duplicate] = finding
			}
		}
	}

	return unique
}

// similarity is normalized edit-distance similarity over lowercased, trimmed
// text: 1.0 for identical strings, 0.0 for completely different ones.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1.0
	}

	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

// rankFindings scores surviving findings and keeps the top K.
func (e *Engine) rankFindings(findings []string) []string {
	type scored struct {
		finding string
		score   float64
	}

	ranked := make([]scored, 0, len(findings))
	for _, finding := range findings {
		ranked = append(ranked, scored{finding: finding, score: ScoreFinding(finding)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	limit := e.cfg.TopFindings
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}

	top := make([]string, 0, limit)
	for _, s := range ranked[:limit] {
		top = append(top, s.finding)
	}
	return top
}

// ScoreFinding computes the heuristic relevance score for one finding.
func ScoreFinding(finding string) float64 {
	score := findingBaseScore

	lengthBonus := float64(len(finding)) * findingLengthPerChar
	if lengthBonus > findingLengthCap {
		lengthBonus = findingLengthCap
	}
	score += lengthBonus

	score += float64(CountHighValueKeywords(finding)) * highKeywordBonus
	score += float64(CountMediumValueKeywords(finding)) * mediumKeywordBonus

	if ContainsDigit(finding) {
		score += digitBonus
	}
	if ContainsAcronym(finding) {
		score += acronymBonus
	}

	return score
}

// calibrate turns the blended confidence into the reported accuracy score.
// Bounded boosts accrue per independent quality signal; a curve pushes
// already-high scores up harder than mid-range ones; and when enough signals
// corroborate, the result is clamped to [ClampFloor, ClampCeiling]. The clamp
// is a reporting policy: high accuracy is claimed only when several
// independent signals agree, and the score is not a measured accuracy.
func (e *Engine) calibrate(confidence float64, analyzerCount int, signals Signals) (float64, int) {
	score := confidence
	signalCount := 0

	if signals.StructuredExtraction {
		score += e.cfg.SignalBoost
		signalCount++
	}

	// Agreement boost saturates as more independent analyzers contribute.
	if analyzerCount > 1 {
		score += e.cfg.AgreementBoostMax * (1 - 1/float64(analyzerCount))
		signalCount++
	}

	if signals.OCRConfidence >= 0.8 {
		score += e.cfg.SignalBoost
		signalCount++
	}

	if signals.StructuralComplexity {
		score += e.cfg.SignalBoost
		signalCount++
	}

	// Two-knee curve: scores already at or above the floor are pushed up
	// more aggressively than scores in the band just below it.
	switch {
	case score >= e.cfg.ClampFloor:
		score += (score - e.cfg.ClampFloor) * 0.5
	case score >= e.cfg.ClampFloor-0.1:
		score += (score - (e.cfg.ClampFloor - 0.1)) * 0.2
	}

	if signalCount >= e.cfg.MinClampSignals {
		score = clamp(score, e.cfg.ClampFloor, e.cfg.ClampCeiling)
	} else {
		// Without corroboration the blended confidence stays the floor.
		score = clamp(score, confidence, e.cfg.ClampCeiling)
	}

	return score, signalCount
}

// recommendAnalyzer scores each analyzer by confidence plus output richness
// and summary detail, and returns the argmax.
func recommendAnalyzer(outputs []model.AnalyzerOutput) string {
	best := ""
	bestScore := -1.0

	for _, output := range outputs {
		richness := float64(len(output.Insights)+len(output.Entities)) * richnessPerItem
		if richness > richnessCap {
			richness = richnessCap
		}

		summaryLen := float64(len(output.Summary)) * 0.0001
		if summaryLen > summaryLenCap {
			summaryLen = summaryLenCap
		}

		score := output.Confidence + richness + summaryLen
		if score > bestScore {
			bestScore = score
			best = output.AnalyzerID
		}
	}

	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
