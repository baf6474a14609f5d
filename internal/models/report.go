package models

import "time"

// TopicReport is the per-topic section of a BatchReport
type TopicReport struct {
	Key           TopicKey          `json:"key"`
	Title         string            `json:"title"`
	Language      string            `json:"language"`
	State         WorkflowState     `json:"state"`
	Outcome       RunOutcome        `json:"outcome"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty"`
	Resumed       bool              `json:"resumed"`
	Attempts      map[Stage]int     `json:"attempts,omitempty"`
	Failures      []StageFailure    `json:"failures,omitempty"`
	Strategy      []StrategyAttempt `json:"strategy_attempts,omitempty"`
	Escalations   int               `json:"escalations"`
	ArtifactPaths []string          `json:"artifact_paths,omitempty"`
}

// BatchReport summarises a batch run
type BatchReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Topics     []TopicReport `json:"topics"`
}
