package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineStateFullPath(t *testing.T) {
	s := NewPipelineState()
	require.Equal(t, StageIdle, s.Stage)

	for _, next := range []Stage{
		StageUploading,
		StageVoiceSegments,
		StageApplyingAudio,
		StageApplyingBlur,
		StageValidating,
		StageDone,
	} {
		var err error
		s, err = s.Advance(next)
		require.NoError(t, err, "advance to %s", next)
		assert.Equal(t, next, s.Stage)
	}

	assert.True(t, s.Terminal())
}

func TestPipelineStateSkipsOptionalStages(t *testing.T) {
	s := NewPipelineState()

	// A run with no segments goes straight from upload to validation.
	s, err := s.Advance(StageUploading)
	require.NoError(t, err)
	s, err = s.Advance(StageValidating)
	require.NoError(t, err)
	s, err = s.Advance(StageDone)
	require.NoError(t, err)
	assert.True(t, s.Terminal())
}

func TestPipelineStateRejectsBackwardTransition(t *testing.T) {
	s := PipelineState{Stage: StageApplyingBlur}

	next, err := s.Advance(StageUploading)
	assert.Error(t, err)
	assert.Equal(t, StageApplyingBlur, next.Stage, "state unchanged on invalid transition")
}

func TestPipelineStateRejectsSkippingValidation(t *testing.T) {
	s := PipelineState{Stage: StageUploading}

	_, err := s.Advance(StageDone)
	assert.Error(t, err)
}

func TestPipelineStateFailedReachableFromAnywhere(t *testing.T) {
	for _, stage := range []Stage{StageIdle, StageUploading, StageVoiceSegments, StageApplyingAudio, StageApplyingBlur, StageValidating} {
		s := PipelineState{Stage: stage}
		next, err := s.Advance(StageFailed)
		require.NoError(t, err, "fail from %s", stage)
		assert.True(t, next.Terminal())
	}
}

func TestPipelineStateTerminalHasNoTransitions(t *testing.T) {
	for _, stage := range []Stage{StageDone, StageFailed} {
		s := PipelineState{Stage: stage}
		_, err := s.Advance(StageUploading)
		assert.Error(t, err)
	}
}
