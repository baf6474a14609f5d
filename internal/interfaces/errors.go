package interfaces

import "errors"

// Sentinel errors shared by collaborators and the workflow core.
// Collaborators wrap these so the core can classify failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrAuthExpired      = errors.New("authentication expired")
	ErrSourceAmbiguous  = errors.New("source ambiguous")
	ErrConversionFailed = errors.New("conversion failed")
	ErrResourceBusy     = errors.New("resource busy")
)
