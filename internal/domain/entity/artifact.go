package entity

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Artifact is a handle to a binary held by the remote transformation
// service. The remote identifier alone does not guarantee byte-for-byte
// retrieval determinism under concurrent modification, so any component
// needing the payload past the current operation retains Bytes explicitly.
type Artifact struct {
	ID          string
	URL         string
	Name        string
	ContentType string
	Bytes       []byte
	Checksum    string
}

// NewArtifact builds an artifact and fingerprints its payload.
func NewArtifact(id, url, name, contentType string, payload []byte) Artifact {
	sum := blake3.Sum256(payload)
	return Artifact{
		ID:          id,
		URL:         url,
		Name:        name,
		ContentType: contentType,
		Bytes:       payload,
		Checksum:    hex.EncodeToString(sum[:]),
	}
}

// Size returns the retained payload length in bytes.
func (a Artifact) Size() int64 {
	return int64(len(a.Bytes))
}

// Empty reports whether the artifact carries no payload.
func (a Artifact) Empty() bool {
	return len(a.Bytes) == 0
}

// PipelineResult is the orchestrator's return value: the final artifact,
// human-readable notes about non-fatal degradations, and a warning string
// surfaced to the user when a fallback occurred. Duration is the source
// video's length in seconds when the metadata fetch succeeded, else zero.
type PipelineResult struct {
	Artifact Artifact
	Duration float64
	Notes    []string
	Warning  string
}
