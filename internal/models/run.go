package models

import "time"

// ErrorKind classifies a stage failure
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindAuthExpired       ErrorKind = "AuthExpired"
	ErrorKindSourceAmbiguous   ErrorKind = "SourceAmbiguous"
	ErrorKindGenerationTimeout ErrorKind = "GenerationTimeout"
	ErrorKindGenerationFailed  ErrorKind = "GenerationFailed"
	ErrorKindExportExhausted   ErrorKind = "ExportExhausted"
	ErrorKindConversionFailed  ErrorKind = "ConversionFailed"
	ErrorKindResourceBusy      ErrorKind = "ResourceBusy"
	ErrorKindCancelled         ErrorKind = "Cancelled"
	ErrorKindTransient         ErrorKind = "Transient"
)

// RunOutcome is the overall result of a run or ledger entry
type RunOutcome string

const (
	OutcomePending   RunOutcome = "pending"
	OutcomeRunning   RunOutcome = "running"
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeFailed    RunOutcome = "failed"
)

// StrategyAttempt is one try of one export method
type StrategyAttempt struct {
	Method    string          `json:"method"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Succeeded bool            `json:"succeeded"`
	Handle    *ArtifactHandle `json:"handle,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// StageFailure is one typed failure in a run's error history
type StageFailure struct {
	Stage            Stage             `json:"stage"`
	Attempt          int               `json:"attempt"`
	Kind             ErrorKind         `json:"kind"`
	Message          string            `json:"message"`
	At               time.Time         `json:"at"`
	StrategyAttempts []StrategyAttempt `json:"strategy_attempts,omitempty"`
}

// WorkflowRun is one attempt to process a Topic.
// It is owned by a single orchestrator call and not modified once terminal.
type WorkflowRun struct {
	ID               string            `json:"id"`
	Topic            Topic             `json:"topic"`
	Key              TopicKey          `json:"key"`
	State            WorkflowState     `json:"state"`
	Durable          WorkflowState     `json:"durable_state"` // last state recorded in the ledger
	CurrentStage     Stage             `json:"current_stage,omitempty"`
	Attempts         map[Stage]int     `json:"attempts"`
	Failures         []StageFailure    `json:"failures,omitempty"`
	StrategyAttempts []StrategyAttempt `json:"strategy_attempts,omitempty"` // latest EXPORT execution
	Escalations      int               `json:"escalations"`
	Source           *SourceRef        `json:"source,omitempty"`
	Job              *JobRef           `json:"job,omitempty"`
	Artifact         *ArtifactHandle   `json:"artifact,omitempty"`
	ConvertedPath    string            `json:"converted_path,omitempty"`
	Outcome          RunOutcome        `json:"outcome"`
	ErrorKind        ErrorKind         `json:"error_kind,omitempty"`
	Resumed          bool              `json:"resumed"`
	StartedAt        time.Time         `json:"started_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	FinishedAt       time.Time         `json:"finished_at,omitempty"`
}

// NewWorkflowRun creates a run starting at INIT
func NewWorkflowRun(id string, topic Topic) *WorkflowRun {
	now := time.Now()
	return &WorkflowRun{
		ID:        id,
		Topic:     topic,
		Key:       topic.Key(),
		State:     StateInit,
		Durable:   StateInit,
		Attempts:  make(map[Stage]int),
		Outcome:   OutcomeRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// ArtifactPaths lists the local files produced so far
func (r *WorkflowRun) ArtifactPaths() []string {
	paths := []string{}
	if r.Artifact != nil && r.Artifact.Path != "" {
		paths = append(paths, r.Artifact.Path)
	}
	if r.ConvertedPath != "" {
		paths = append(paths, r.ConvertedPath)
	}
	return paths
}

// IsTerminal reports whether the run has finished
func (r *WorkflowRun) IsTerminal() bool {
	return r.State.IsTerminal()
}
