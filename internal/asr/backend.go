// Package asr implements the process-wide ASR engine singleton (§4.10):
// family-dispatched backend selection, idempotent initialize with an
// init-lock double-check, and transcription. asr/base.py's ASRBackend
// and LegacyASRBackend protocols collapse into the single Backend
// interface below, the way §9's inheritance redesign note calls for.
package asr

import (
	"context"
	"encoding/binary"
	"math"
)

// State is the engine's lifecycle state, reported by Status.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateDownloading    State = "downloading"
	StateLoading        State = "loading"
	StateReady          State = "ready"
	StateError          State = "error"
)

// TranscriptionResult is a completed transcription (asr/base.py's
// TranscriptionResult).
type TranscriptionResult struct {
	Text       string   `json:"text"`
	Language   string   `json:"language,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	DurationMs int      `json:"duration_ms,omitempty"`
}

// Status is the asr.status response shape.
type Status struct {
	State   State  `json:"state"`
	Ready   bool   `json:"ready"`
	ModelID string `json:"model_id,omitempty"`
	Device  string `json:"device,omitempty"`
}

// ProgressFunc reports backend-load progress during Initialize, mapped
// to event.model_progress / a loading-state detail string by callers.
type ProgressFunc func(detail string)

// Backend is the minimum contract each model family must meet (§4.10
// "Backend contract"). modelPath points at the cache-activated model
// directory; device is already resolved to "cpu" or "cuda".
type Backend interface {
	Initialize(ctx context.Context, modelPath string, device string, onProgress ProgressFunc) error
	SetLanguage(language string) error
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (TranscriptionResult, error)
	IsReady() bool
	Device() string
	Unload() error
}

// Float32ToPCM16LE converts [-1, 1]-range float32 samples to PCM16LE
// bytes, the inverse of the PCM16-to-float32 conversion internal/vad
// uses, for family backends that shell out to a CLI expecting a WAV
// file.
func Float32ToPCM16LE(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}
