package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

var (
	// ErrDuplicateTopic is returned when a batch contains the same topic key twice
	ErrDuplicateTopic = errors.New("duplicate topic key")
	// ErrTopicActive is returned when a run for the same key is already in progress
	ErrTopicActive = errors.New("topic already has an active run")
	// ErrNoTopics is returned for an empty batch
	ErrNoTopics = errors.New("no topics to run")
)

// StageError is a typed stage failure
type StageError struct {
	Stage    models.Stage
	Kind     models.ErrorKind
	Attempts []models.StrategyAttempt // EXPORT only
	Err      error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage models.Stage, kind models.ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// ConfigError is an input error detected before any workflow starts
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind carried by err
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return models.ErrorKindTransient
}

// IsFatal reports whether kind ends the workflow without retry
func IsFatal(kind models.ErrorKind) bool {
	return kind == models.ErrorKindSourceAmbiguous || kind == models.ErrorKindCancelled
}

// classify maps a collaborator error to a StageError.
// parent is the caller's context: its cancellation means Cancelled, while
// a deadline on a derived stage context is only a stage timeout.
func classify(parent context.Context, stage models.Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se.Stage = stage
		}
		if se.Kind == models.ErrorKindCancelled && parent.Err() == nil {
			se.Kind = models.ErrorKindTransient
		}
		return se
	}

	if parent.Err() != nil {
		return newStageError(stage, models.ErrorKindCancelled, err)
	}

	switch {
	case errors.Is(err, interfaces.ErrAuthExpired):
		return newStageError(stage, models.ErrorKindAuthExpired, err)
	case errors.Is(err, interfaces.ErrSourceAmbiguous):
		return newStageError(stage, models.ErrorKindSourceAmbiguous, err)
	case errors.Is(err, interfaces.ErrResourceBusy):
		return newStageError(stage, models.ErrorKindResourceBusy, err)
	case errors.Is(err, interfaces.ErrConversionFailed), stage == models.StageConvert:
		return newStageError(stage, models.ErrorKindConversionFailed, err)
	}

	return newStageError(stage, models.ErrorKindTransient, err)
}

func cancelled(stage models.Stage, err error) *StageError {
	if err == nil {
		err = context.Canceled
	}
	return newStageError(stage, models.ErrorKindCancelled, err)
}
