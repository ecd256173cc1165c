package orchestrator

import (
	"time"

	"github.com/ChaosChain/fin-studio-go/types"
	"github.com/ChaosChain/fin-studio-go/verification"
)

// ComponentExecution tracks one component's fan-out within a task. It is
// mutated only by the orchestrator between barriers, never concurrently.
type ComponentExecution struct {
	ComponentType types.ComponentType `json:"component_type"`
	// AssignedAgents are the agent ids bound to this component.
	AssignedAgents []string `json:"assigned_agents"`
	// CompletedAgents are the agents that produced a real (non-degraded) record.
	CompletedAgents []string `json:"completed_agents"`
	// RecordIDs are every record created for this component, placeholders
	// included.
	RecordIDs           []string               `json:"record_ids"`
	VerificationResults []*verification.Result `json:"verification_results,omitempty"`
	ConsensusReached    bool                   `json:"consensus_reached"`
	// Retried marks that the component went through its one retry pass.
	Retried bool `json:"retried"`
}

// Completed reports whether at least one real record exists for the component.
func (c *ComponentExecution) Completed() bool {
	return len(c.CompletedAgents) > 0
}

// TaskExecution is the orchestrator's in-flight state for one task. It is
// discarded once the task reaches a terminal status; the report and the
// optional audit archive are what survive.
type TaskExecution struct {
	TaskID     string                                     `json:"task_id"`
	Subject    string                                     `json:"subject"`
	Status     types.TaskStatus                           `json:"status"`
	StartTime  time.Time                                  `json:"start_time"`
	Components map[types.ComponentType]*ComponentExecution `json:"components"`
}

func newTaskExecution(taskID, subject string, components []types.ComponentType) *TaskExecution {
	task := &TaskExecution{
		TaskID:     taskID,
		Subject:    subject,
		Status:     types.TaskStatusPending,
		StartTime:  time.Now().UTC(),
		Components: make(map[types.ComponentType]*ComponentExecution, len(components)),
	}
	for _, component := range components {
		task.Components[component] = &ComponentExecution{ComponentType: component}
	}
	return task
}

// validTransitions is the task lifecycle graph. Terminal states have no
// outgoing edges.
var validTransitions = map[types.TaskStatus][]types.TaskStatus{
	types.TaskStatusPending:    {types.TaskStatusInProgress, types.TaskStatusFailed},
	types.TaskStatusInProgress: {types.TaskStatusVerifying, types.TaskStatusFailed},
	types.TaskStatusVerifying:  {types.TaskStatusCompleted, types.TaskStatusPartiallyCompleted, types.TaskStatusFailed},
}

// transition moves the task to the next status, rejecting edges outside the
// lifecycle graph.
func (t *TaskExecution) transition(next types.TaskStatus) error {
	for _, allowed := range validTransitions[t.Status] {
		if allowed == next {
			t.Status = next
			return nil
		}
	}
	return types.NewErrorf(types.ErrInvalidTransition, "cannot move task %s from %s to %s", t.TaskID, t.Status, next)
}

// Decision is the reported outcome for one record.
type Decision struct {
	RecordID         string              `json:"record_id"`
	AgentID          string              `json:"agent_id"`
	ComponentType    types.ComponentType `json:"component_type"`
	Accepted         bool                `json:"accepted"`
	MeanScore        float64             `json:"mean_score"`
	StructuralPasses int                 `json:"structural_passes"`
	TotalVerifiers   int                 `json:"total_verifiers"`
	Degraded         bool                `json:"degraded"`
}

// TaskReport is the caller-facing summary of a finished task.
type TaskReport struct {
	TaskID     string              `json:"task_id"`
	Subject    string              `json:"subject"`
	Status     types.TaskStatus    `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Records    int                 `json:"records"`
	Accepted   int                 `json:"accepted"`
	Rejected   int                 `json:"rejected"`
	Retried    []types.ComponentType `json:"retried,omitempty"`
	Decisions  []*Decision         `json:"decisions"`
}
