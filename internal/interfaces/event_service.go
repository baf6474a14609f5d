package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventRunStarted         EventType = "workflow.run_started"
	EventRunResumed         EventType = "workflow.run_resumed"
	EventStageStarted       EventType = "workflow.stage_started"
	EventStageCompleted     EventType = "workflow.stage_completed"
	EventStageFailed        EventType = "workflow.stage_failed"
	EventRecovering         EventType = "workflow.recovering"
	EventReauthenticated    EventType = "workflow.reauthenticated"
	EventStallEscalated     EventType = "workflow.stall_escalated"
	EventDiagnosticCaptured EventType = "workflow.diagnostic_captured"
	EventRunCompleted       EventType = "workflow.run_completed"
	EventRunFailed          EventType = "workflow.run_failed"
	EventBatchCompleted     EventType = "workflow.batch_completed"
)

// AllEventTypes lists every event type published by the workflow
func AllEventTypes() []EventType {
	return []EventType{
		EventRunStarted,
		EventRunResumed,
		EventStageStarted,
		EventStageCompleted,
		EventStageFailed,
		EventRecovering,
		EventReauthenticated,
		EventStallEscalated,
		EventDiagnosticCaptured,
		EventRunCompleted,
		EventRunFailed,
		EventBatchCompleted,
	}
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
