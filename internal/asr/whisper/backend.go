// Package whisper implements the "whisper" model family backend by
// shelling out to a whisper.cpp CLI binary, adapted from the teacher's
// internal/voice whisperCPP subprocess transcriber.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/openvoicy/sidecar/internal/asr"
	"github.com/openvoicy/sidecar/internal/audio"
)

func init() {
	asr.RegisterFamily("whisper", func() asr.Backend { return New() })
}

// Backend runs whisper-cli against a ggml model file found in the
// cache-activated model directory.
type Backend struct {
	mu       sync.Mutex
	cliPath  string
	modelDir string
	device   string
	language string
	ready    bool
	threads  int
}

// New returns an unintialized whisper backend.
func New() *Backend {
	return &Backend{threads: 4}
}

func (b *Backend) Initialize(ctx context.Context, modelDir string, device string, onProgress asr.ProgressFunc) error {
	if onProgress != nil {
		onProgress("locating whisper-cli")
	}
	cli := "whisper-cli"
	cliPath, err := exec.LookPath(cli)
	if err != nil {
		return fmt.Errorf("whisper.cpp CLI not found (%s)", cli)
	}

	ggmlFiles, err := filepath.Glob(filepath.Join(modelDir, "*.bin"))
	if err != nil {
		return err
	}
	if len(ggmlFiles) == 0 {
		return fmt.Errorf("no ggml model file found in %s", modelDir)
	}

	if onProgress != nil {
		onProgress(fmt.Sprintf("loading %s", filepath.Base(ggmlFiles[0])))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cliPath = cliPath
	b.modelDir = ggmlFiles[0]
	b.device = device
	b.ready = true
	return nil
}

func (b *Backend) SetLanguage(language string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.language = language
	return nil
}

func (b *Backend) Transcribe(ctx context.Context, samples []float32, sampleRate int) (asr.TranscriptionResult, error) {
	b.mu.Lock()
	cliPath, modelPath, language, ready := b.cliPath, b.modelDir, b.language, b.ready
	b.mu.Unlock()
	if !ready {
		return asr.TranscriptionResult{}, fmt.Errorf("whisper backend not initialized")
	}
	if len(samples) == 0 {
		return asr.TranscriptionResult{}, nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if language == "" {
		language = "en"
	}

	tmpDir, err := os.MkdirTemp("", "openvoicy-whisper-*")
	if err != nil {
		return asr.TranscriptionResult{}, err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	pcm16le := asr.Float32ToPCM16LE(samples)
	if err := audio.WriteWAVPCM16LEFile(wavPath, pcm16le, sampleRate); err != nil {
		return asr.TranscriptionResult{}, err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	args := []string{
		"-m", modelPath,
		"-f", wavPath,
		"-l", language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
		"-t", strconv.Itoa(4),
	}

	cmd := exec.CommandContext(ctx, cliPath, args...)
	cmd.Stdout = nil
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return asr.TranscriptionResult{}, context.Canceled
		}
		return asr.TranscriptionResult{}, fmt.Errorf("whisper-cli failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	text, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return asr.TranscriptionResult{}, fmt.Errorf("reading whisper-cli output: %w", err)
	}
	result := asr.TranscriptionResult{Text: strings.TrimSpace(string(text))}
	if language != "auto" {
		result.Language = language
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
	b.cliPath = ""
	b.modelDir = ""
	return nil
}
