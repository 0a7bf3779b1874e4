package voice

import (
	"encoding/binary"
	"errors"
	"math"
)

// Gain normalization is a correctness-preserving best-effort step: quiet
// clips are boosted before submission so the conversion service does not
// reject them, but callers do not depend on it.
const (
	lowPeakThreshold = 0.30
	targetPeak       = 0.90
)

var errNotPCM16WAV = errors.New("voice: clip is not 16-bit PCM WAV")

// wavDataChunk locates the sample payload of a 16-bit PCM WAV clip.
// Returns the byte offset and length of the data chunk.
func wavDataChunk(clip []byte) (int, int, error) {
	if len(clip) < 44 || string(clip[0:4]) != "RIFF" || string(clip[8:12]) != "WAVE" {
		return 0, 0, errNotPCM16WAV
	}

	pos := 12
	dataOff, dataLen := -1, 0
	pcm16 := false
	for pos+8 <= len(clip) {
		id := string(clip[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(clip[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(clip) {
			size = len(clip) - body
		}
		switch id {
		case "fmt ":
			if size >= 16 {
				format := binary.LittleEndian.Uint16(clip[body : body+2])
				bits := binary.LittleEndian.Uint16(clip[body+14 : body+16])
				pcm16 = format == 1 && bits == 16
			}
		case "data":
			dataOff, dataLen = body, size
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if !pcm16 || dataOff < 0 {
		return 0, 0, errNotPCM16WAV
	}
	return dataOff, dataLen, nil
}

// peakAmplitude returns the clip's peak sample amplitude in [0,1].
func peakAmplitude(clip []byte) (float64, error) {
	off, length, err := wavDataChunk(clip)
	if err != nil {
		return 0, err
	}
	var peak int32
	for i := off; i+1 < off+length; i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(clip[i : i+2])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768.0, nil
}

// normalizeGain scales every sample so the peak lands on target,
// clipping at full scale. The input is not modified.
func normalizeGain(clip []byte, peak, target float64) []byte {
	off, length, err := wavDataChunk(clip)
	if err != nil || peak <= 0 {
		return clip
	}
	gain := target / peak

	out := make([]byte, len(clip))
	copy(out, clip)
	for i := off; i+1 < off+length; i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(out[i : i+2])))
		scaled := math.Round(s * gain)
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		}
		if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(int16(scaled)))
	}
	return out
}

// normalizeIfQuiet boosts a WAV clip whose peak is below the threshold but
// non-zero. Non-WAV clips and silent clips pass through unchanged.
func normalizeIfQuiet(clip []byte) ([]byte, bool) {
	peak, err := peakAmplitude(clip)
	if err != nil {
		return clip, false
	}
	if peak == 0 || peak >= lowPeakThreshold {
		return clip, false
	}
	return normalizeGain(clip, peak, targetPeak), true
}
