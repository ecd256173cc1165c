// Package provenance holds signed, immutable analysis records scoped per task
// and computes ancestry chains over their parent references.
package provenance

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ChaosChain/fin-studio-go/collaborator"
	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/types"
)

// Record is one agent's signed output for one task component. Records are
// immutable after creation; all fields participate in the signed digest except
// ID (which is the digest) and Signature.
type Record struct {
	ID            string              `json:"id"`
	AgentID       string              `json:"agent_id"`
	TaskID        string              `json:"task_id"`
	ComponentType types.ComponentType `json:"component_type"`
	Result        collaborator.Result `json:"-"`
	DataSources   []string            `json:"data_sources"`
	Reasoning     string              `json:"reasoning"`
	ParentRecords []string            `json:"parent_records,omitempty"`
	Signature     []byte              `json:"signature"`
	Timestamp     time.Time           `json:"timestamp"`
	// ConfigID names the analyzer configuration that produced the result, so
	// redundant records for one component stay distinguishable.
	ConfigID string `json:"config_id,omitempty"`
}

// Degraded reports whether the record carries a degraded placeholder payload.
func (r *Record) Degraded() bool {
	return collaborator.IsDegraded(r.Result)
}

// canonicalRecord is the stable encoding the digest and signature cover.
// Field order is fixed; the result payload is embedded in its tagged form.
type canonicalRecord struct {
	AgentID       string              `json:"agent_id"`
	Result        json.RawMessage     `json:"result"`
	DataSources   []string            `json:"data_sources"`
	Reasoning     string              `json:"reasoning"`
	ParentRecords []string            `json:"parent_records"`
	TaskID        string              `json:"task_id"`
	ComponentType types.ComponentType `json:"component_type"`
	ConfigID      string              `json:"config_id"`
	TimestampNano int64               `json:"timestamp_nano"`
}

// digest computes the canonical sha256 digest of the record's signed fields.
func (r *Record) digest() ([]byte, error) {
	encoded, err := collaborator.EncodeResult(r.Result)
	if err != nil {
		return nil, err
	}
	return identity.Digest(canonicalRecord{
		AgentID:       r.AgentID,
		Result:        encoded,
		DataSources:   r.DataSources,
		Reasoning:     r.Reasoning,
		ParentRecords: r.ParentRecords,
		TaskID:        r.TaskID,
		ComponentType: r.ComponentType,
		ConfigID:      r.ConfigID,
		TimestampNano: r.Timestamp.UnixNano(),
	})
}

// idFromDigest renders the content hash as the record id.
func idFromDigest(digest []byte) string {
	return hex.EncodeToString(digest)
}
