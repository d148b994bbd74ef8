// Package mockbackend is a deterministic, dependency-free Backend used
// by internal/asr's own tests and by internal/dispatcher's tests,
// mirroring the teacher's internal/voice mock-provider idiom so tests
// never need real model weights.
package mockbackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/openvoicy/sidecar/internal/asr"
)

func init() {
	asr.RegisterFamily("mock", func() asr.Backend { return New() })
}

// Backend returns a fixed transcript for every call and never fails
// unless configured to via FailInitialize/FailTranscribe.
type Backend struct {
	mu             sync.Mutex
	ready          bool
	device         string
	language       string
	FailInitialize bool
	FailTranscribe bool
	FixedText      string
}

// New returns a mock backend; FixedText defaults to a recognizable
// placeholder transcript.
func New() *Backend {
	return &Backend{FixedText: "mock transcription"}
}

func (b *Backend) Initialize(_ context.Context, _ string, device string, onProgress asr.ProgressFunc) error {
	if onProgress != nil {
		onProgress("loading mock backend")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailInitialize {
		return fmt.Errorf("mock backend configured to fail initialize")
	}
	b.device = device
	b.ready = true
	return nil
}

func (b *Backend) SetLanguage(language string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if language == "xx-unsupported" {
		return fmt.Errorf("language %q not supported", language)
	}
	b.language = language
	return nil
}

func (b *Backend) Transcribe(_ context.Context, samples []float32, sampleRate int) (asr.TranscriptionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailTranscribe {
		return asr.TranscriptionResult{}, fmt.Errorf("mock backend configured to fail transcribe")
	}
	text := b.FixedText
	if len(samples) == 0 {
		text = ""
	}
	durationMs := 0
	if sampleRate > 0 {
		durationMs = len(samples) * 1000 / sampleRate
	}
	result := asr.TranscriptionResult{Text: text, DurationMs: durationMs}
	if b.language != "" {
		result.Language = b.language
	}
	return result, nil
}

func (b *Backend) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *Backend) Device() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

func (b *Backend) Unload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = false
	return nil
}
