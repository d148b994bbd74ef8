package asr

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/modelcache"
	"github.com/openvoicy/sidecar/internal/protocol"
)

// DevicePreference is the device_pref request field.
type DevicePreference string

const (
	DeviceAuto DevicePreference = "auto"
	DeviceCUDA DevicePreference = "cuda"
	DeviceCPU  DevicePreference = "cpu"
)

// cudaAvailable defaults to checking for an nvidia-smi binary on PATH;
// tests substitute a probe via Engine.SetCUDAAvailable to avoid depending on real
// hardware.
func cudaAvailable() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// ManifestLoader resolves a model_id to its manifest, used to find the
// cache-activated model directory. Production wiring resolves
// <model_id>.json under the shared model/manifests directory through
// internal/resources; tests substitute a fixed manifest.
type ManifestLoader func(modelID string) (*modelcache.Manifest, error)

// Engine is the process-wide ASR singleton fronting whichever family
// backend is currently loaded (§4.10).
type Engine struct {
	cache          *modelcache.Cache
	loadManifest   ManifestLoader
	cudaAvailable  func() bool
	onProgress     func(contracts.ModelProgressPayload)

	initMu sync.Mutex // serializes Initialize calls (the "init lock")

	mu       sync.Mutex
	state    State
	modelID  string
	device   string
	language string
	backend  Backend
}

// NewEngine builds an Engine backed by cache for model downloads and
// loadManifest for model_id -> Manifest resolution.
func NewEngine(cache *modelcache.Cache, loadManifest ManifestLoader) *Engine {
	return &Engine{
		cache:         cache,
		loadManifest:  loadManifest,
		cudaAvailable: cudaAvailable,
		state:         StateUninitialized,
	}
}

// OnProgress registers a callback invoked with event.model_progress
// payloads during a download triggered by Initialize.
func (e *Engine) OnProgress(fn func(contracts.ModelProgressPayload)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

// SetCUDAAvailable overrides the CUDA-availability probe, for tests.
func (e *Engine) SetCUDAAvailable(fn func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cudaAvailable = fn
}

// selectDevice implements §4.10's device-selection rule.
func (e *Engine) selectDevice(pref DevicePreference) (string, error) {
	switch pref {
	case DeviceCUDA:
		if e.cudaAvailable() {
			return "cuda", nil
		}
		return "", protocol.NewError(protocol.KindDeviceUnavailable, "CUDA requested but not available", map[string]any{
			"requested_device": "cuda",
		})
	case DeviceCPU, "":
		return "cpu", nil
	default: // auto
		if e.cudaAvailable() {
			return "cuda", nil
		}
		return "cpu", nil
	}
}

// Initialize implements asr.initialize, including the fast path (P9):
// a repeat call with the same (model_id, device, language) while
// already ready returns immediately without taking the init lock and
// with no disk or network I/O.
func (e *Engine) Initialize(ctx context.Context, modelID string, devicePref DevicePreference, language string) (Status, error) {
	if status, hit := e.fastPath(modelID, devicePref, language); hit {
		return status, nil
	}

	e.initMu.Lock()
	defer e.initMu.Unlock()

	// Double-check: another goroutine may have finished initializing
	// the same (model_id, device, language) while we waited for the lock.
	if status, hit := e.fastPath(modelID, devicePref, language); hit {
		return status, nil
	}

	device, err := e.selectDevice(devicePref)
	if err != nil {
		return Status{}, err
	}

	e.setState(StateDownloading, modelID, device)

	manifest, err := e.loadManifest(modelID)
	if err != nil {
		e.setState(StateError, modelID, device)
		return Status{}, protocol.NewError(protocol.KindModelLoad, fmt.Sprintf("model %s not found: %v", modelID, err), nil)
	}

	if !e.cache.IsInstalled(modelID) {
		progress := e.snapshotProgress()
		if err := e.cache.Install(ctx, manifest, progress); err != nil {
			e.setState(StateError, modelID, device)
			return Status{}, err
		}
	}

	backend, err := newBackend(string(manifest.ModelFamily))
	if err != nil {
		e.setState(StateError, modelID, device)
		return Status{}, protocol.NewError(protocol.KindUnsupportedFamily, err.Error(), map[string]any{
			"known_families": KnownFamilies(),
		})
	}

	if language != "" && language != "auto" {
		if err := backend.SetLanguage(language); err != nil {
			e.setState(StateError, modelID, device)
			return Status{}, protocol.NewError(protocol.KindLanguageUnsupported, err.Error(), map[string]any{
				"language": language,
			})
		}
	}

	e.setState(StateLoading, modelID, device)

	modelDir := e.cache.ModelDir(modelID)
	if err := backend.Initialize(ctx, modelDir, device, func(detail string) {}); err != nil {
		e.setState(StateError, modelID, device)
		return Status{}, protocol.NewError(protocol.KindModelLoad, err.Error(), nil)
	}

	// Swap in the new backend, unloading whatever was previously loaded.
	e.mu.Lock()
	previous := e.backend
	e.backend = backend
	e.modelID = modelID
	e.device = device
	e.language = language
	e.state = StateReady
	e.mu.Unlock()

	if previous != nil {
		previous.Unload()
	}

	return e.Status(), nil
}

// fastPath returns the current status without taking initMu if the
// engine is already ready for this exact (model_id, device, language).
func (e *Engine) fastPath(modelID string, devicePref DevicePreference, language string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady || e.modelID != modelID || e.language != language {
		return Status{}, false
	}
	wantDevice, _ := e.peekDevice(devicePref)
	if wantDevice != "" && wantDevice != e.device {
		return Status{}, false
	}
	return e.statusLocked(), true
}

// peekDevice resolves devicePref without probing CUDA availability,
// used only to compare against the already-loaded device during the
// fast path.
func (e *Engine) peekDevice(pref DevicePreference) (string, error) {
	switch pref {
	case DeviceCUDA:
		return "cuda", nil
	case DeviceCPU:
		return "cpu", nil
	default:
		return "", nil // auto matches whatever device is already loaded
	}
}

func (e *Engine) setState(state State, modelID, device string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.modelID = modelID
	e.device = device
}

func (e *Engine) snapshotProgress() func(contracts.ModelProgressPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onProgress
}

// Status implements asr.status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	return Status{
		State:   e.state,
		Ready:   e.state == StateReady,
		ModelID: e.modelID,
		Device:  e.device,
	}
}

// Transcribe implements the transcription call used by the preprocess
// -> asr.transcribe -> textpipe pipeline. Requires the engine be ready.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (TranscriptionResult, error) {
	e.mu.Lock()
	backend := e.backend
	ready := e.state == StateReady
	e.mu.Unlock()

	if !ready || backend == nil {
		return TranscriptionResult{}, protocol.NewError(protocol.KindNotReady, "ASR engine is not ready", nil)
	}
	result, err := backend.Transcribe(ctx, samples, sampleRate)
	if err != nil {
		return TranscriptionResult{}, protocol.NewError(protocol.KindTranscribe, err.Error(), nil)
	}
	return result, nil
}

// Unload releases the currently loaded backend, if any, resetting the
// engine to uninitialized.
func (e *Engine) Unload() {
	e.mu.Lock()
	backend := e.backend
	e.backend = nil
	e.modelID = ""
	e.device = ""
	e.language = ""
	e.state = StateUninitialized
	e.mu.Unlock()

	if backend != nil {
		backend.Unload()
	}
}
