package entity

import "fmt"

// Stage is one discrete step of the anonymization pipeline.
type Stage string

const (
	StageIdle          Stage = "IDLE"
	StageUploading     Stage = "UPLOADING"
	StageVoiceSegments Stage = "PROCESSING_VOICE_SEGMENTS"
	StageApplyingAudio Stage = "APPLYING_AUDIO"
	StageApplyingBlur  Stage = "APPLYING_BLUR"
	StageValidating    Stage = "VALIDATING"
	StageDone          Stage = "DONE"
	StageFailed        Stage = "FAILED"
)

// validNext lists the forward transitions of the pipeline state machine.
// Every stage between upload and validation is optional, so each stage may
// skip ahead; StageFailed is reachable from anywhere.
var validNext = map[Stage][]Stage{
	StageIdle:          {StageUploading},
	StageUploading:     {StageVoiceSegments, StageApplyingAudio, StageApplyingBlur, StageValidating},
	StageVoiceSegments: {StageApplyingAudio, StageApplyingBlur, StageValidating},
	StageApplyingAudio: {StageApplyingBlur, StageValidating},
	StageApplyingBlur:  {StageValidating},
	StageValidating:    {StageDone},
}

// PipelineState is an explicit, passed-by-value pipeline position.
type PipelineState struct {
	Stage Stage
}

// NewPipelineState returns the idle state.
func NewPipelineState() PipelineState {
	return PipelineState{Stage: StageIdle}
}

// Advance is the pure transition function of the stage machine. It returns
// the next state, or an error for transitions the machine does not define.
func (s PipelineState) Advance(next Stage) (PipelineState, error) {
	if next == StageFailed {
		return PipelineState{Stage: StageFailed}, nil
	}
	for _, allowed := range validNext[s.Stage] {
		if allowed == next {
			return PipelineState{Stage: next}, nil
		}
	}
	return s, fmt.Errorf("invalid pipeline transition %s -> %s", s.Stage, next)
}

// Terminal reports whether the pipeline has finished, one way or the other.
func (s PipelineState) Terminal() bool {
	return s.Stage == StageDone || s.Stage == StageFailed
}
