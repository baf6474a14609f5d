package models

// SourceRef identifies the remote resource (notebook) for a topic
type SourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JobRef identifies a running remote generation job
type JobRef struct {
	SourceID string `json:"source_id"`
	ID       string `json:"id"`
}

// ArtifactRef points at a generated artifact awaiting export
type ArtifactRef struct {
	SourceID  string `json:"source_id"`
	JobID     string `json:"job_id"`
	FileStem  string `json:"file_stem"`
	OutputDir string `json:"output_dir"`
}

// ArtifactHandle is a locally exported artifact
type ArtifactHandle struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// PollStatus is the result of one completion check
type PollStatus string

const (
	PollPending PollStatus = "pending"
	PollDone    PollStatus = "done"
	PollError   PollStatus = "error"
)
