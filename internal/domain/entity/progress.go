package entity

// ProgressEvent is one entry in the pipeline's typed progress stream:
// an overall percentage plus the label of the step being executed.
type ProgressEvent struct {
	Percent float64 `json:"percent"`
	Step    string  `json:"step"`
}

// ProgressTracker enforces the monotonic-progress contract: emitted
// percentages never decrease and stay within [0,100]. It holds the last
// value by copy; callers pass it by pointer through a single pipeline run
// and discard it afterwards.
type ProgressTracker struct {
	last float64
}

// Clamp folds a raw percentage into the monotonic window.
func (t *ProgressTracker) Clamp(percent float64) float64 {
	if percent < t.last {
		percent = t.last
	}
	if percent > 100 {
		percent = 100
	}
	t.last = percent
	return percent
}

// Event builds the next progress event, clamping the percentage.
func (t *ProgressTracker) Event(percent float64, step string) ProgressEvent {
	return ProgressEvent{Percent: t.Clamp(percent), Step: step}
}
