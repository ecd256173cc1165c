package collaborator

import (
	"context"
)

// AgentIdentity describes an analysis collaborator to the orchestrator.
type AgentIdentity struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

// Request is the envelope the orchestrator hands to an analyzer.
type Request struct {
	Action  string            `json:"action"`
	TaskID  string            `json:"task_id"`
	Subject string            `json:"subject"`
	Params  map[string]string `json:"params,omitempty"`
}

// Response is the envelope an analyzer returns. Data is the opaque payload
// consumed by the provenance store and the verifiers.
type Response struct {
	Data        Result   `json:"data"`
	DataSources []string `json:"data_sources"`
	Reasoning   string   `json:"reasoning"`
}

// Analyzer is the analysis collaborator contract. How the data is produced is
// not the pipeline's concern; today's implementations prompt a language model
// and parse its text.
type Analyzer interface {
	Identity() AgentIdentity
	Handle(ctx context.Context, req Request) (*Response, error)
}

// PaymentProcessor settles the reward for an agent after consensus. Actual
// fund movement is delegated externally; implementations here only carry the
// gating decision outward.
type PaymentProcessor interface {
	Settle(ctx context.Context, agentID string, accepted bool, amount string) error
}
