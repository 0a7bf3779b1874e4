package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SegmentKind tags a timeline segment with the effect applied to it.
type SegmentKind string

const (
	KindVoice SegmentKind = "voice"
	KindBlur  SegmentKind = "blur"
)

const (
	// MinSegmentDuration is the minimum span of a valid segment, in seconds.
	MinSegmentDuration = 0.5

	// DefaultBlurStrength matches the transformation service's blur scale.
	DefaultBlurStrength = 2000

	// DefaultQuickSegmentLength is the forward span of a quick-add segment.
	DefaultQuickSegmentLength = 5.0

	// LongVideoThreshold is the duration above which processing time
	// warnings are surfaced, in seconds.
	LongVideoThreshold = 60.0
)

var (
	ErrSegmentTooShort = errors.New("segment too short: minimum duration is 0.5 seconds")
	ErrAtVideoEnd      = errors.New("cannot create segment at the end of video")
	ErrUnknownField    = errors.New("unknown segment field")
)

// BlurParams carries the fields only meaningful for blur segments.
type BlurParams struct {
	Strength int
}

// VoiceParams carries the fields only meaningful for voice segments.
// ConvertedAudio is populated by the pipeline after a successful conversion.
type VoiceParams struct {
	ConvertedAudio *Artifact
}

// Segment is a [Start,End) time range annotation on the video timeline.
// Exactly one of Blur or Voice is set, matching Kind.
type Segment struct {
	ID    uuid.UUID
	Start float64
	End   float64
	Kind  SegmentKind
	Blur  *BlurParams
	Voice *VoiceParams
}

// Duration returns the span of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether t falls inside the segment's half-open range.
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

// segmentJSON is the boundary shape exchanged with hosting applications.
type segmentJSON struct {
	ID           string      `json:"id"`
	Start        float64     `json:"start"`
	End          float64     `json:"end"`
	Kind         SegmentKind `json:"kind"`
	BlurStrength *int        `json:"blurStrength,omitempty"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	out := segmentJSON{ID: s.ID.String(), Start: s.Start, End: s.End, Kind: s.Kind}
	if s.Kind == KindBlur && s.Blur != nil {
		out.BlurStrength = &s.Blur.Strength
	}
	return json.Marshal(out)
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var in segmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	id, err := uuid.Parse(in.ID)
	if err != nil {
		id = uuid.New()
	}
	seg := Segment{ID: id, Start: in.Start, End: in.End, Kind: in.Kind}
	switch in.Kind {
	case KindBlur:
		strength := DefaultBlurStrength
		if in.BlurStrength != nil && *in.BlurStrength > 0 {
			strength = *in.BlurStrength
		}
		seg.Blur = &BlurParams{Strength: strength}
	case KindVoice:
		seg.Voice = &VoiceParams{}
	default:
		return fmt.Errorf("unknown segment kind %q", in.Kind)
	}
	*s = seg
	return nil
}

func newSegment(start, end float64, kind SegmentKind) Segment {
	seg := Segment{ID: uuid.New(), Start: start, End: end, Kind: kind}
	switch kind {
	case KindBlur:
		seg.Blur = &BlurParams{Strength: DefaultBlurStrength}
	case KindVoice:
		seg.Voice = &VoiceParams{}
	}
	return seg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewSegment creates a segment with both endpoints clamped into
// [0, videoDuration]. When the clamped span falls below the minimum
// duration, End is pushed forward, capped at videoDuration, and Start is
// pulled back if the cap leaves the span still too short.
func NewSegment(start, end, videoDuration float64, kind SegmentKind) Segment {
	start = clamp(start, 0, videoDuration)
	end = clamp(end, 0, videoDuration)
	if end < start+MinSegmentDuration {
		end = clamp(start+MinSegmentDuration, 0, videoDuration)
	}
	if end-start < MinSegmentDuration {
		start = clamp(end-MinSegmentDuration, 0, videoDuration)
	}
	return newSegment(start, end, kind)
}

// SegmentFromDrag orders the two drag endpoints and creates a segment.
// A span below minDuration yields ok=false and no segment; callers must
// surface a validation error rather than silently dropping the gesture.
func SegmentFromDrag(t0, t1 float64, kind SegmentKind, minDuration float64) (Segment, bool) {
	start, end := t0, t1
	if end < start {
		start, end = end, start
	}
	if end-start < minDuration {
		return Segment{}, false
	}
	return NewSegment(start, end, end, kind), true
}

// NewQuickSegment creates a fixed-length segment starting at the playhead.
// It fails when the playhead is at or past the end of the video, since no
// forward span exists there.
func NewQuickSegment(currentTime, videoDuration, length float64, kind SegmentKind) (Segment, error) {
	start := currentTime
	end := start + length
	if end > videoDuration {
		end = videoDuration
	}
	if start >= end {
		return Segment{}, ErrAtVideoEnd
	}
	return NewSegment(start, end, videoDuration, kind), nil
}

// UpdateSegmentField returns a new slice with the given segment's start or
// end replaced. Both endpoints are re-clamped into [0, videoDuration] and
// the complementary endpoint is adjusted whenever the edit would invert the
// interval, so End > Start always holds afterwards.
func UpdateSegmentField(segments []Segment, id uuid.UUID, field string, value, videoDuration float64) ([]Segment, error) {
	if field != "start" && field != "end" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	out := make([]Segment, len(segments))
	copy(out, segments)
	for i := range out {
		if out[i].ID != id {
			continue
		}
		start, end := out[i].Start, out[i].End
		if field == "start" {
			start = value
		} else {
			end = value
		}
		start = clamp(start, 0, videoDuration)
		end = clamp(end, 0, videoDuration)
		if end < start+MinSegmentDuration {
			if field == "start" {
				end = clamp(start+MinSegmentDuration, 0, videoDuration)
				if end-start < MinSegmentDuration {
					start = clamp(end-MinSegmentDuration, 0, videoDuration)
				}
			} else {
				start = clamp(end-MinSegmentDuration, 0, videoDuration)
				if end-start < MinSegmentDuration {
					end = clamp(start+MinSegmentDuration, 0, videoDuration)
				}
			}
		}
		out[i].Start, out[i].End = start, end
	}
	return out, nil
}

// RemoveSegment returns a new slice without the given segment.
func RemoveSegment(segments []Segment, id uuid.UUID) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// UpdateBlurStrength returns a new slice with the given blur segment's
// strength replaced. Non-positive values and voice segments are untouched.
func UpdateBlurStrength(segments []Segment, id uuid.UUID, strength int) []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	for i := range out {
		if out[i].ID == id && out[i].Kind == KindBlur && strength > 0 {
			out[i].Blur = &BlurParams{Strength: strength}
		}
	}
	return out
}

// FilterByKind returns the segments of the given kind, in list order.
func FilterByKind(segments []Segment, kind SegmentKind) []Segment {
	var out []Segment
	for _, s := range segments {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// FormatTime renders seconds as m:ss for display.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	mins := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// IsLongVideo reports whether a duration warrants a processing-time warning.
func IsLongVideo(duration float64) bool {
	return duration > LongVideoThreshold
}
