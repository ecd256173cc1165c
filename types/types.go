package types

// ComponentType identifies one named sub-task of an analysis task.
type ComponentType string

const (
	ComponentMarketResearch    ComponentType = "market_research"
	ComponentTechnicalAnalysis ComponentType = "technical_analysis"
	ComponentSentiment         ComponentType = "sentiment_analysis"
	ComponentRecommendation    ComponentType = "recommendation"
)

// DefaultComponents returns the component set a task is decomposed into when
// no override is configured.
func DefaultComponents() []ComponentType {
	return []ComponentType{
		ComponentMarketResearch,
		ComponentTechnicalAnalysis,
		ComponentSentiment,
		ComponentRecommendation,
	}
}

// TaskStatus represents the lifecycle state of a task execution.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusVerifying  TaskStatus = "verifying"
	TaskStatusCompleted  TaskStatus = "completed"
	// TaskStatusPartiallyCompleted indicates the task finished but at least one
	// component still had zero successful records after its retry.
	TaskStatusPartiallyCompleted TaskStatus = "partially_completed"
	TaskStatusFailed             TaskStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusPartiallyCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// CoordinationStatus represents the state of a multi-agent task coordination
// broadcast on the relay network.
type CoordinationStatus string

const (
	CoordinationPending   CoordinationStatus = "pending"
	CoordinationActive    CoordinationStatus = "active"
	CoordinationCompleted CoordinationStatus = "completed"
	CoordinationFailed    CoordinationStatus = "failed"
)
