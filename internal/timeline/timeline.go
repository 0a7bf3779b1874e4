// Package timeline maps pointer interactions on the editor timeline onto
// segment boundaries. It is the single source of truth for pointer-to-time
// conversion, so drag previews and committed segments always agree.
package timeline

import (
	"github.com/anonvid/anonvid-processing-service/internal/domain/entity"
)

// PositionFromPointer converts a pointer's horizontal position into a
// playback time. pointerX and timelineLeft are in the same coordinate
// space (the pointer's page offset and the timeline's bounding-box left
// edge); the offset is clamped into [0, timelineWidth] and mapped linearly
// onto [0, videoDuration].
func PositionFromPointer(pointerX, timelineLeft, timelineWidth, videoDuration float64) float64 {
	if timelineWidth <= 0 || videoDuration <= 0 {
		return 0
	}
	offset := pointerX - timelineLeft
	if offset < 0 {
		offset = 0
	}
	if offset > timelineWidth {
		offset = timelineWidth
	}
	return offset / timelineWidth * videoDuration
}

// DragState is the in-flight gesture: start time captured on pointer-down
// and the live preview position updated on pointer-move. No segment exists
// until the gesture ends.
type DragState struct {
	Active  bool
	Kind    entity.SegmentKind
	Start   float64
	Preview float64
}

// TimelineState is the explicit value object holding the editor's segment
// list and any in-flight drag. All transitions are pure.
type TimelineState struct {
	VideoDuration float64
	Segments      []entity.Segment
	Drag          DragState
}

// NewTimelineState returns an empty timeline for a loaded video.
func NewTimelineState(videoDuration float64) TimelineState {
	return TimelineState{VideoDuration: videoDuration}
}

// BeginDrag captures the gesture's start time on pointer-down.
func (s TimelineState) BeginDrag(at float64, kind entity.SegmentKind) TimelineState {
	s.Drag = DragState{Active: true, Kind: kind, Start: at, Preview: at}
	return s
}

// MoveDrag updates the live preview on pointer-move.
func (s TimelineState) MoveDrag(at float64) TimelineState {
	if !s.Drag.Active {
		return s
	}
	s.Drag.Preview = at
	return s
}

// PreviewRange returns the ordered interval the drag currently covers.
// It uses the same endpoints EndDrag will commit, keeping the rendered
// preview consistent with the segment eventually created.
func (s TimelineState) PreviewRange() (start, end float64, ok bool) {
	if !s.Drag.Active {
		return 0, 0, false
	}
	start, end = s.Drag.Start, s.Drag.Preview
	if end < start {
		start, end = end, start
	}
	return start, end, true
}

// EndDrag finishes the gesture at the given time. A span below the minimum
// duration commits nothing and returns ErrSegmentTooShort so the caller can
// surface the condition; the drag state is cleared either way.
func (s TimelineState) EndDrag(at float64) (TimelineState, error) {
	if !s.Drag.Active {
		return s, nil
	}
	drag := s.Drag
	s.Drag = DragState{}

	seg, ok := entity.SegmentFromDrag(drag.Start, at, drag.Kind, entity.MinSegmentDuration)
	if !ok {
		return s, entity.ErrSegmentTooShort
	}
	s.Segments = append(append([]entity.Segment(nil), s.Segments...), seg)
	return s, nil
}

// AddQuickSegment appends a fixed-length segment at the playhead.
func (s TimelineState) AddQuickSegment(currentTime float64, kind entity.SegmentKind) (TimelineState, error) {
	seg, err := entity.NewQuickSegment(currentTime, s.VideoDuration, entity.DefaultQuickSegmentLength, kind)
	if err != nil {
		return s, err
	}
	s.Segments = append(append([]entity.Segment(nil), s.Segments...), seg)
	return s, nil
}

// Reset clears segments and any in-flight drag, as on a full editor reset.
func (s TimelineState) Reset() TimelineState {
	return NewTimelineState(s.VideoDuration)
}
