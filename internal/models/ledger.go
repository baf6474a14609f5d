package models

import "time"

// LedgerEntry is the persisted record of one topic's progress.
// State is the last durable forward state; a failed run leaves it in place.
type LedgerEntry struct {
	Key           TopicKey      `json:"key"`
	Title         string        `json:"title"`
	Language      string        `json:"language"`
	State         WorkflowState `json:"state"`
	Outcome       RunOutcome    `json:"outcome"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	RunID         string        `json:"run_id"`
	Source        *SourceRef    `json:"source,omitempty"`
	Job           *JobRef       `json:"job,omitempty"`
	ArtifactPath  string        `json:"artifact_path,omitempty"`
	ArtifactVia   string        `json:"artifact_via,omitempty"`
	ConvertedPath string        `json:"converted_path,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ArtifactPaths lists the recorded local files
func (e *LedgerEntry) ArtifactPaths() []string {
	paths := []string{}
	if e.ArtifactPath != "" {
		paths = append(paths, e.ArtifactPath)
	}
	if e.ConvertedPath != "" {
		paths = append(paths, e.ConvertedPath)
	}
	return paths
}
