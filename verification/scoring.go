package verification

import (
	"math"
	"time"

	"github.com/ChaosChain/fin-studio-go/collaborator"
)

// ScoringConfig holds the coefficients behind the scoring heuristics. The
// values are tuned business constants, not derived laws; tests pin the default
// behavior without claiming the constants are correct.
type ScoringConfig struct {
	// MinReasoningLen is the reasoning length (in bytes) counted as substantive.
	MinReasoningLen int `yaml:"min_reasoning_len" json:"min_reasoning_len"`

	// Initiative score shaping.
	InitiativeBase           float64 `yaml:"initiative_base" json:"initiative_base"`
	InitiativeReasoningBonus float64 `yaml:"initiative_reasoning_bonus" json:"initiative_reasoning_bonus"`
	InitiativeSourcesBonus   float64 `yaml:"initiative_sources_bonus" json:"initiative_sources_bonus"`
	InitiativeParentBonus    float64 `yaml:"initiative_parent_bonus" json:"initiative_parent_bonus"`
	InitiativeFailBelow      float64 `yaml:"initiative_fail_below" json:"initiative_fail_below"`

	// Traceability score shaping.
	TraceabilityBase           float64 `yaml:"traceability_base" json:"traceability_base"`
	TraceabilitySourcesBonus   float64 `yaml:"traceability_sources_bonus" json:"traceability_sources_bonus"`
	TraceabilityReasoningBonus float64 `yaml:"traceability_reasoning_bonus" json:"traceability_reasoning_bonus"`
	TraceabilitySignatureBonus float64 `yaml:"traceability_signature_bonus" json:"traceability_signature_bonus"`
	TraceabilityFailBelow      float64 `yaml:"traceability_fail_below" json:"traceability_fail_below"`

	// Issue penalty applied to accuracy, completeness and trustworthiness.
	IssuePenaltyStep float64 `yaml:"issue_penalty_step" json:"issue_penalty_step"`
	IssuePenaltyCap  float64 `yaml:"issue_penalty_cap" json:"issue_penalty_cap"`
}

// DefaultScoringConfig returns the default coefficients.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MinReasoningLen:            40,
		InitiativeBase:             0.5,
		InitiativeReasoningBonus:   0.2,
		InitiativeSourcesBonus:     0.2,
		InitiativeParentBonus:      0.1,
		InitiativeFailBelow:        0.3,
		TraceabilityBase:           0.3,
		TraceabilitySourcesBonus:   0.3,
		TraceabilityReasoningBonus: 0.2,
		TraceabilitySignatureBonus: 0.2,
		TraceabilityFailBelow:      0.4,
		IssuePenaltyStep:           0.05,
		IssuePenaltyCap:            0.15,
	}
}

// clamp01 clamps v to [0,1].
func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// round2 rounds v to exactly 2 decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// initiativeScore rates how much independent effort a record shows.
func initiativeScore(cfg ScoringConfig, reasoning string, sourceCount, parentCount int) float64 {
	score := cfg.InitiativeBase
	if len(reasoning) >= cfg.MinReasoningLen {
		score += cfg.InitiativeReasoningBonus
	}
	if sourceCount > 1 {
		score += cfg.InitiativeSourcesBonus
	}
	if parentCount > 0 {
		score += cfg.InitiativeParentBonus
	}
	return clamp01(score)
}

// traceabilityScore rates how auditable a record is.
func traceabilityScore(cfg ScoringConfig, sourceCount int, reasoning string, signatureValid bool) float64 {
	score := cfg.TraceabilityBase
	if sourceCount > 0 {
		score += cfg.TraceabilitySourcesBonus
	}
	if reasoning != "" {
		score += cfg.TraceabilityReasoningBonus
	}
	if signatureValid {
		score += cfg.TraceabilitySignatureBonus
	}
	return clamp01(score)
}

// timelinessScore is a step function of record age.
func timelinessScore(age time.Duration) float64 {
	switch {
	case age <= 5*time.Minute:
		return 1.0
	case age <= 15*time.Minute:
		return 0.8
	case age <= 30*time.Minute:
		return 0.6
	case age <= 60*time.Minute:
		return 0.4
	default:
		return 0.2
	}
}

// issuePenalty converts a total issue count into the score penalty applied to
// accuracy, completeness and trustworthiness.
func issuePenalty(cfg ScoringConfig, issuesTotal int) float64 {
	return math.Min(cfg.IssuePenaltyCap, float64(issuesTotal)*cfg.IssuePenaltyStep)
}

// contentSignals are the shape features of a typed result payload used by the
// content-derived dimensions.
type contentSignals struct {
	hasSummary bool
	fieldCount int
	hasNumeric bool
	hasDetail  bool
}

// signalsFor extracts content signals via exhaustive matching on the closed
// result union.
func signalsFor(result collaborator.Result) contentSignals {
	switch r := result.(type) {
	case collaborator.MarketResearch:
		return contentSignals{
			hasSummary: r.Summary != "",
			fieldCount: 4,
			hasNumeric: false,
			hasDetail:  len(r.KeyFindings) > 0 && len(r.Sources) > 0,
		}
	case collaborator.TechnicalAnalysis:
		return contentSignals{
			hasSummary: r.Summary != "",
			fieldCount: 4,
			hasNumeric: len(r.Indicators) > 0 || r.Confidence > 0,
			hasDetail:  len(r.Indicators) >= 2,
		}
	case collaborator.SentimentAnalysis:
		return contentSignals{
			hasSummary: r.Summary != "",
			fieldCount: 4,
			hasNumeric: true,
			hasDetail:  len(r.Drivers) > 0,
		}
	case collaborator.Recommendation:
		return contentSignals{
			hasSummary: r.Summary != "",
			fieldCount: 4,
			hasNumeric: false,
			hasDetail:  r.Rationale != "",
		}
	case collaborator.Degraded:
		return contentSignals{}
	default:
		return contentSignals{}
	}
}

// buildScoreVector assembles the seven dimensions from the audit outcomes and
// the content signals, clamped to [0,1] and rounded to 2 decimals.
func buildScoreVector(cfg ScoringConfig, sig contentSignals, end EndResultCheck, audit CausalAudit, age time.Duration) ScoreVector {
	penalty := issuePenalty(cfg, len(end.Issues)+len(audit.Issues))

	accuracy := 0.5
	if end.Passed {
		accuracy += 0.15
	}
	if audit.Passed {
		accuracy += 0.05
	}
	if sig.hasNumeric {
		accuracy += 0.1
	}
	if sig.hasSummary {
		accuracy += 0.1
	}
	accuracy -= penalty

	completeness := 0.4
	completeness += 0.05 * math.Min(float64(sig.fieldCount), 4)
	if sig.hasDetail {
		completeness += 0.2
	}
	if end.Passed {
		completeness += 0.1
	}
	completeness -= penalty

	originality := 0.5
	if sig.hasDetail {
		originality += 0.2
	}
	if sig.hasSummary {
		originality += 0.1
	}
	if audit.InitiativeScore >= 0.7 {
		originality += 0.2
	}

	trustworthiness := 0.4
	if end.Passed {
		trustworthiness += 0.2
	}
	if audit.Passed {
		trustworthiness += 0.2
	}
	if sig.hasSummary {
		trustworthiness += 0.1
	}
	if audit.TraceabilityScore >= 0.8 {
		trustworthiness += 0.1
	}
	trustworthiness -= penalty

	confidence := 0.3
	if end.Passed {
		confidence += 0.3
	}
	if audit.Passed {
		confidence += 0.2
	}
	if sig.hasNumeric {
		confidence += 0.1
	}
	if sig.hasSummary {
		confidence += 0.1
	}

	return ScoreVector{
		Accuracy:        round2(clamp01(accuracy)),
		Completeness:    round2(clamp01(completeness)),
		Causality:       round2(clamp01(audit.TraceabilityScore)),
		Timeliness:      round2(clamp01(timelinessScore(age))),
		Originality:     round2(clamp01(originality)),
		Trustworthiness: round2(clamp01(trustworthiness)),
		Confidence:      round2(clamp01(confidence)),
	}
}
