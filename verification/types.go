// Package verification provides the independent verifier pool that validates
// and scores provenance records. Every verifier evaluates every record of a
// task (full coverage); verdicts are recorded as data and never thrown.
package verification

import (
	"time"
)

// ScoreVector holds the seven scoring dimensions. Every value lies in [0,1]
// and is rounded to 2 decimals.
type ScoreVector struct {
	Accuracy        float64 `json:"accuracy"`
	Completeness    float64 `json:"completeness"`
	Causality       float64 `json:"causality"`
	Timeliness      float64 `json:"timeliness"`
	Originality     float64 `json:"originality"`
	Trustworthiness float64 `json:"trustworthiness"`
	Confidence      float64 `json:"confidence"`
}

// Dims returns the dimensions as a slice, in declaration order.
func (s ScoreVector) Dims() []float64 {
	return []float64{
		s.Accuracy, s.Completeness, s.Causality, s.Timeliness,
		s.Originality, s.Trustworthiness, s.Confidence,
	}
}

// Mean returns the mean of the seven dimensions.
func (s ScoreVector) Mean() float64 {
	sum := 0.0
	for _, d := range s.Dims() {
		sum += d
	}
	return sum / 7
}

// EndResultCheck is the outcome of the structural end-result validation.
type EndResultCheck struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// CausalAudit is the outcome of the causal chain audit.
type CausalAudit struct {
	Passed            bool     `json:"passed"`
	ChainLength       int      `json:"chain_length"`
	InitiativeScore   float64  `json:"initiative_score"`
	TraceabilityScore float64  `json:"traceability_score"`
	Issues            []string `json:"issues,omitempty"`
}

// Result is one verifier's verdict for one record. Produced once per
// (record, verifier) pair and never mutated afterwards.
type Result struct {
	RecordID    string         `json:"record_id"`
	AgentID     string         `json:"agent_id"`
	VerifierID  string         `json:"verifier_id"`
	Scores      ScoreVector    `json:"scores"`
	EndResult   EndResultCheck `json:"end_result"`
	CausalAudit CausalAudit    `json:"causal_audit"`
	Feedback    string         `json:"feedback"`
	Timestamp   time.Time      `json:"timestamp"`
}

// StructuralPass reports whether both evaluation phases passed.
func (r *Result) StructuralPass() bool {
	return r.EndResult.Passed && r.CausalAudit.Passed
}
