// Package voice is the client for the hosted voice-conversion service.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/anonvid/anonvid-processing-service/internal/domain/port"
)

// Per-segment skip conditions. The orchestrator interprets both as "omit
// this segment, continue the batch" rather than aborting.
var (
	ErrSkipSegmentLowVolume        = errors.New("voice: volume too low, segment skipped")
	ErrSkipSegmentConversionFailed = errors.New("voice: conversion failed, segment skipped")
)

// DefaultVoice is the conversion target used when the caller picks none.
const DefaultVoice = "hi-IN-rahul"

const fallbackStyle = "Conversational"

type profile struct {
	Style    string
	Fallback string
}

// profiles maps each voice identifier to its request style and the
// fallback identifier tried when the service rejects the primary voice.
var profiles = map[string]profile{
	"hi-IN-rahul":   {Style: "General", Fallback: "en-US-ken"},
	"en-IN-eashwar": {Style: "Conversational", Fallback: "en-US-ken"},
	"en-IN-arohi":   {Style: "Promo", Fallback: "en-US-sarah"},
	"en-IN-priya":   {Style: "Narration", Fallback: "en-US-sarah"},
	"hi-IN-ayushi":  {Style: "Conversational", Fallback: "en-US-sarah"},
}

func profileFor(voiceID string) profile {
	if p, ok := profiles[voiceID]; ok {
		return p
	}
	return profile{Style: fallbackStyle, Fallback: "en-US-ken"}
}

// Voice describes one entry of the selectable voice catalog.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Style    string `json:"style"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// Voices returns the selectable voice catalog.
func Voices() []Voice {
	return []Voice{
		{ID: "hi-IN-rahul", Name: "Rahul", Style: "General", Language: "Hindi", Gender: "male"},
		{ID: "en-IN-eashwar", Name: "Eashwar", Style: "Conversational", Language: "English", Gender: "male"},
		{ID: "en-IN-arohi", Name: "Arohi", Style: "Promo", Language: "English", Gender: "female"},
		{ID: "en-IN-priya", Name: "Priya", Style: "Narration", Language: "English", Gender: "female"},
		{ID: "hi-IN-ayushi", Name: "Ayushi", Style: "Conversational", Language: "Hindi", Gender: "female"},
	}
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// DefaultVoice replaces an empty voice id; FallbackVoice, when set,
	// overrides the per-voice fallback table on the retry attempt.
	DefaultVoice  string
	FallbackVoice string
}

type Gateway struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ port.VoiceConverter = (*Gateway)(nil)

func New(cfg Config, logger *zap.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// apiError is a non-success response from the conversion endpoint.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("voice conversion failed: HTTP %d: %s", e.StatusCode, e.Message)
}

const lowVolumeMessage = "Volume is too low"

// Convert submits an audio clip and returns the converted-audio reference.
// Quiet WAV clips are gain-normalized before submission. A "volume too low"
// rejection becomes ErrSkipSegmentLowVolume; any other validation-class
// rejection is retried once with the voice's fallback identifier and a
// generic style before giving up with ErrSkipSegmentConversionFailed.
// Transport errors propagate unmodified.
func (g *Gateway) Convert(ctx context.Context, clipName string, clip []byte, voiceID string) (port.ConversionResult, error) {
	if voiceID == "" {
		voiceID = g.cfg.DefaultVoice
	}
	if voiceID == "" {
		voiceID = DefaultVoice
	}
	p := profileFor(voiceID)
	fallbackID := g.cfg.FallbackVoice
	if fallbackID == "" {
		fallbackID = p.Fallback
	}

	normalized, boosted := normalizeIfQuiet(clip)
	if boosted {
		g.logger.Debug("gain-normalized quiet clip", zap.String("clip", clipName))
	}

	result, err := g.post(ctx, clipName, normalized, voiceID, p.Style)
	if err == nil {
		return result, nil
	}

	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return port.ConversionResult{}, err
	}

	if apiErr.Message == lowVolumeMessage {
		g.logger.Warn("clip volume too low even after normalization",
			zap.String("clip", clipName),
		)
		return port.ConversionResult{}, ErrSkipSegmentLowVolume
	}

	g.logger.Info("retrying conversion with fallback voice",
		zap.String("clip", clipName),
		zap.String("voice_id", voiceID),
		zap.String("fallback_voice_id", fallbackID),
	)

	result, err = g.post(ctx, clipName, normalized, fallbackID, fallbackStyle)
	if err != nil {
		g.logger.Warn("fallback conversion failed",
			zap.String("clip", clipName),
			zap.Error(err),
		)
		return port.ConversionResult{}, ErrSkipSegmentConversionFailed
	}
	return result, nil
}

func (g *Gateway) post(ctx context.Context, clipName string, clip []byte, voiceID, style string) (port.ConversionResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", clipName)
	if err != nil {
		return port.ConversionResult{}, fmt.Errorf("write conversion form: %w", err)
	}
	if _, err := fw.Write(clip); err != nil {
		return port.ConversionResult{}, fmt.Errorf("write conversion form: %w", err)
	}
	if err := w.WriteField("voice_id", voiceID); err != nil {
		return port.ConversionResult{}, fmt.Errorf("write conversion form: %w", err)
	}
	if err := w.WriteField("style", style); err != nil {
		return port.ConversionResult{}, fmt.Errorf("write conversion form: %w", err)
	}
	if err := w.Close(); err != nil {
		return port.ConversionResult{}, fmt.Errorf("close conversion form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/convert", &body)
	if err != nil {
		return port.ConversionResult{}, fmt.Errorf("create conversion request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("api-key", g.cfg.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return port.ConversionResult{}, fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(respBody, &payload)
		return port.ConversionResult{}, &apiError{StatusCode: resp.StatusCode, Message: payload.ErrorMessage}
	}

	var payload struct {
		AudioFile string `json:"audio_file"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return port.ConversionResult{}, fmt.Errorf("decode conversion response: %w", err)
	}
	if payload.AudioFile == "" {
		return port.ConversionResult{}, fmt.Errorf("conversion response missing audio url")
	}

	g.logger.Info("voice conversion succeeded",
		zap.String("clip", clipName),
		zap.String("voice_id", voiceID),
	)
	return port.ConversionResult{AudioURL: payload.AudioFile}, nil
}

// FetchConverted downloads the converted clip. Empty payloads fail.
func (g *Gateway) FetchConverted(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download converted audio: HTTP %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("converted audio payload is empty")
	}
	return payload, nil
}
