package models

// Stage is one named step of a topic's workflow
type Stage string

const (
	StageAuthenticate    Stage = "AUTHENTICATE"
	StageResolveSource   Stage = "RESOLVE_SOURCE"
	StageGenerate        Stage = "GENERATE"
	StageAwaitCompletion Stage = "AWAIT_COMPLETION"
	StageExport          Stage = "EXPORT"
	StageConvert         Stage = "CONVERT"
)

// Stages returns all stages in execution order
func Stages() []Stage {
	return []Stage{
		StageAuthenticate,
		StageResolveSource,
		StageGenerate,
		StageAwaitCompletion,
		StageExport,
		StageConvert,
	}
}

// Exclusive reports whether the stage needs the single shared session permit
func (s Stage) Exclusive() bool {
	return s == StageExport || s == StageConvert
}

// Target is the state reached when the stage succeeds
func (s Stage) Target() WorkflowState {
	switch s {
	case StageAuthenticate:
		return StateAuthenticated
	case StageResolveSource:
		return StateSourceReady
	case StageGenerate:
		return StateGenerating
	case StageAwaitCompletion:
		return StateGenerated
	case StageExport:
		return StateExported
	case StageConvert:
		return StateConverted
	}
	return StateFailed
}

// WorkflowState is a state of the per-topic state machine
type WorkflowState string

const (
	StateInit          WorkflowState = "INIT"
	StateAuthenticated WorkflowState = "AUTHENTICATED"
	StateSourceReady   WorkflowState = "SOURCE_READY"
	StateGenerating    WorkflowState = "GENERATING"
	StateGenerated     WorkflowState = "GENERATED"
	StateExported      WorkflowState = "EXPORTED"
	StateConverted     WorkflowState = "CONVERTED"
	StateDone          WorkflowState = "DONE"
	StateFailed        WorkflowState = "FAILED"
	StateRecovering    WorkflowState = "RECOVERING"
)

// NextStage returns the stage that advances a run out of state.
// ok is false for CONVERTED (next is DONE) and for states with no forward stage.
func (s WorkflowState) NextStage() (Stage, bool) {
	switch s {
	case StateInit, "":
		return StageAuthenticate, true
	case StateAuthenticated:
		return StageResolveSource, true
	case StateSourceReady:
		return StageGenerate, true
	case StateGenerating:
		return StageAwaitCompletion, true
	case StateGenerated:
		return StageExport, true
	case StateExported:
		return StageConvert, true
	}
	return "", false
}

// IsTerminal reports whether the state ends a run
func (s WorkflowState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}
