package entity

import "github.com/google/uuid"

// AnonymizeJobMessage is the inbound message from the anonymize.jobs queue.
// Segments use the boundary JSON shape {id, start, end, kind, blurStrength?}.
type AnonymizeJobMessage struct {
	JobID          uuid.UUID `json:"job_id"`
	UserID         string    `json:"user_id"`
	VideoKey       string    `json:"video_key"`
	FileSize       int64     `json:"file_size"`
	VoiceID        string    `json:"voice_id"`
	BlurWholeVideo bool      `json:"blur_whole_video"`
	Segments       []Segment `json:"segments"`
	UserEmail      string    `json:"user_email,omitempty"`
}

// JobStatusMessage is the outbound message published to the anonymize.status
// queue at every job state change.
type JobStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	VideoKey     string    `json:"video_key"`
	ResultKey    string    `json:"result_key,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	Warning      string    `json:"warning,omitempty"`
	Notes        []string  `json:"notes,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
}

// JobProgressMessage streams pipeline progress events to consumers.
type JobProgressMessage struct {
	JobID   uuid.UUID `json:"job_id"`
	Percent float64   `json:"percent"`
	Step    string    `json:"step"`
}
