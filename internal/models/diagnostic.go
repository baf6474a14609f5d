package models

import "time"

// DiagnosticSnapshot is a point-in-time description of a failed stage.
// It is written for offline inspection and never analyzed.
type DiagnosticSnapshot struct {
	ID             string            `json:"id"`
	RunID          string            `json:"run_id"`
	Key            TopicKey          `json:"key"`
	Title          string            `json:"title"`
	Stage          Stage             `json:"stage"`
	Attempt        int               `json:"attempt"`
	State          WorkflowState     `json:"state"`
	Kind           ErrorKind         `json:"kind"`
	Error          string            `json:"error"`
	Attempts       map[Stage]int     `json:"attempts"`
	Failures       []StageFailure    `json:"failures,omitempty"`
	ExclusiveHeld  bool              `json:"exclusive_held"`
	Source         *SourceRef        `json:"source,omitempty"`
	Job            *JobRef           `json:"job,omitempty"`
	StrategyTrials []StrategyAttempt `json:"strategy_attempts,omitempty"`
	CapturedAt     time.Time         `json:"captured_at"`
}
