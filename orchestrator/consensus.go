package orchestrator

import (
	"github.com/ChaosChain/fin-studio-go/verification"
)

// meanEpsilon absorbs float accumulation error at the acceptance threshold so
// a mean of exactly the configured minimum is accepted.
const meanEpsilon = 1e-9

// Consensus is the aggregated accept/reject decision for one record.
type Consensus struct {
	RecordID string `json:"record_id"`
	// Accepted is true when structural passes strictly exceed half the
	// verifier count and the mean score clears the configured minimum.
	Accepted         bool    `json:"accepted"`
	StructuralPasses int     `json:"structural_passes"`
	TotalVerifiers   int     `json:"total_verifiers"`
	MeanScore        float64 `json:"mean_score"`
}

// CalculateConsensus folds independent verification results for one record
// into a single decision. The decision is deterministic in its inputs and
// monotone in the number of structurally passing results. No results means no
// acceptance.
func CalculateConsensus(results []*verification.Result, minMeanScore float64) *Consensus {
	consensus := &Consensus{TotalVerifiers: len(results)}
	if len(results) == 0 {
		return consensus
	}
	consensus.RecordID = results[0].RecordID

	sum := 0.0
	for _, result := range results {
		if result.StructuralPass() {
			consensus.StructuralPasses++
		}
		sum += result.Scores.Mean()
	}
	consensus.MeanScore = sum / float64(len(results))

	majority := consensus.StructuralPasses*2 > consensus.TotalVerifiers
	consensus.Accepted = majority && consensus.MeanScore >= minMeanScore-meanEpsilon
	return consensus
}

// groupByRecord buckets verification results by the record they concern,
// preserving first-seen record order.
func groupByRecord(results []*verification.Result) (map[string][]*verification.Result, []string) {
	grouped := make(map[string][]*verification.Result)
	var order []string
	for _, result := range results {
		if _, seen := grouped[result.RecordID]; !seen {
			order = append(order, result.RecordID)
		}
		grouped[result.RecordID] = append(grouped[result.RecordID], result)
	}
	return grouped, order
}
