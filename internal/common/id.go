package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique workflow run ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewSnapshotID generates a unique diagnostic snapshot ID with the "diag_" prefix
func NewSnapshotID() string {
	return "diag_" + uuid.New().String()
}
