package relay

import (
	"encoding/json"
	"time"

	"github.com/ChaosChain/fin-studio-go/types"
)

// AgentProfile is the announced snapshot of an agent. Announcements are
// replaceable by identity: a newer announcement from the same identity
// supersedes the prior snapshot wherever it is observed.
type AgentProfile struct {
	AgentID      string    `json:"agent_id"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities"`
	Specialties  []string  `json:"specialties,omitempty"`
	Reputation   float64   `json:"reputation"`
	Cost         string    `json:"cost,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	PublicKey    string    `json:"public_key"`
	LastSeen     time.Time `json:"last_seen"`
}

// HasCapability reports exact, case-sensitive capability membership.
func (p *AgentProfile) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasSpecialty reports exact, case-sensitive specialty membership.
func (p *AgentProfile) HasSpecialty(specialty string) bool {
	for _, s := range p.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}

// ServiceRequest is the payload of a request envelope.
type ServiceRequest struct {
	// RequestID correlates the eventual response; chosen by the caller, filled
	// with a fresh id when empty.
	RequestID string `json:"request_id"`
	// TaskType names the requested service.
	TaskType string `json:"task_type"`
	// Payload is the opaque request body.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Target optionally addresses one identity; empty means any capable listener.
	Target string `json:"target,omitempty"`
	// MaxCost optionally caps what the caller will pay.
	MaxCost string `json:"max_cost,omitempty"`
	// Deadline optionally bounds when the work is useful.
	Deadline time.Time `json:"deadline,omitempty"`
	// Timeout is the caller-side wait before the request counts as failed.
	// Zero means the directory default.
	Timeout time.Duration `json:"-"`
}

// ServiceResponse is the payload of a response envelope.
type ServiceResponse struct {
	RequestID string          `json:"request_id"`
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// DiscoveryQuery is the payload of a discovery broadcast.
type DiscoveryQuery struct {
	Capabilities []string `json:"capabilities,omitempty"`
	Specialties  []string `json:"specialties,omitempty"`
}

// Matches reports whether a profile satisfies the query (every requested
// capability and specialty present, exact and case-sensitive).
func (q *DiscoveryQuery) Matches(profile *AgentProfile) bool {
	for _, c := range q.Capabilities {
		if !profile.HasCapability(c) {
			return false
		}
	}
	for _, s := range q.Specialties {
		if !profile.HasSpecialty(s) {
			return false
		}
	}
	return true
}

// Coordination is the payload and local state of a task coordination event.
type Coordination struct {
	TaskID       string                   `json:"task_id"`
	Participants []string                 `json:"participants"`
	Status       types.CoordinationStatus `json:"status"`
	Data         json.RawMessage          `json:"data,omitempty"`
	UpdatedAt    time.Time                `json:"updated_at"`
}
