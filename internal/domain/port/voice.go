package port

import "context"

// ConversionResult references the remotely stored converted-audio artifact.
type ConversionResult struct {
	AudioURL string
}

// VoiceConverter is the client for the hosted voice-conversion service.
// Convert fails with the distinguished skip errors defined by the
// implementation when a segment should be omitted rather than aborting the
// batch; transport errors propagate unmodified.
type VoiceConverter interface {
	Convert(ctx context.Context, clipName string, clip []byte, voiceID string) (ConversionResult, error)
	FetchConverted(ctx context.Context, audioURL string) ([]byte, error)
}
