// Package dispatcher implements the sidecar's single-threaded
// cooperative request loop (§4.2, §5): one newline-delimited JSON-RPC
// request is fully handled before the next is read, method handlers
// are looked up from a fixed table keyed by contracts.Method (never a
// runtime-registered string map, per §9's redesign note), and every
// handler error is mapped through protocol.AsSidecarError to one place,
// and a handler panic is recovered in dispatch and answered as
// E_INTERNAL, so it can never crash the process. It is grounded
// on the original sidecar's server.py request loop: parse -> dispatch
// -> catch typed errors -> write response -> exit after shutdown.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/openvoicy/sidecar/internal/asr"
	"github.com/openvoicy/sidecar/internal/audio"
	"github.com/openvoicy/sidecar/internal/audiopipe"
	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/modelcache"
	"github.com/openvoicy/sidecar/internal/notify"
	"github.com/openvoicy/sidecar/internal/observability"
	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/resources"
	"github.com/openvoicy/sidecar/internal/session"
	"github.com/openvoicy/sidecar/internal/textpipe"
)

// handlerFunc is the shape every registered method handler satisfies.
type handlerFunc func(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError)

// Options configures a Dispatcher. Devices/Recorder/Meter are
// constructed by the caller (cmd/sidecar) so tests can substitute mock
// capturer factories without this package knowing about PortAudio.
type Options struct {
	Version          string
	Writer           *protocol.Writer
	Logger           *log.Logger
	Resolver         *resources.Resolver
	Devices          *audio.Manager
	Recorder         *audio.Recorder
	Meter            *audio.Meter
	Tracker          *session.Tracker
	Engine           *asr.Engine
	Cache            *modelcache.Cache
	FramesPerBuffer  int
	AudiopipeOptions audiopipe.Options
	// Metrics is optional; a nil value is tolerated throughout via the
	// nil-receiver observer methods (§ ambient observability).
	Metrics *observability.Metrics
}

// recordingState describes the single active recording, if any. Only
// one recording may be in progress at a time (§4.4).
type recordingState struct {
	sessionID string
	deviceUID string
	language  string
	startedAt time.Time
}

// Dispatcher owns every piece of process-wide state the method table
// touches: the active recording, the standalone meter, the session
// tracker, the ASR engine, the model cache, and the live replacement
// rule set.
type Dispatcher struct {
	version         string
	writer          *protocol.Writer
	logger          *log.Logger
	resolver        *resources.Resolver
	devices         *audio.Manager
	recorder        *audio.Recorder
	meter           *audio.Meter
	tracker         *session.Tracker
	engine          *asr.Engine
	cache           *modelcache.Cache
	notifier        *notify.Dispatcher
	framesPerBuffer int
	metrics         *observability.Metrics

	recMu     sync.Mutex
	recording *recordingState

	meterMu         sync.Mutex
	meterRunning    bool
	meterIntervalMs int
	meterCancel     context.CancelFunc

	rulesMu sync.Mutex
	rules   []textpipe.Rule

	presets []textpipe.Preset

	handlers map[contracts.Method]handlerFunc
}

// New builds a Dispatcher from opts and loads whatever shared
// resources (presets) are resolvable at startup. Missing optional
// resources are not fatal; system.info's resource_paths surfaces what
// was actually found.
func New(opts Options) *Dispatcher {
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	d := &Dispatcher{
		version:         opts.Version,
		writer:          opts.Writer,
		logger:          opts.Logger,
		resolver:        opts.Resolver,
		devices:         opts.Devices,
		recorder:        opts.Recorder,
		meter:           opts.Meter,
		tracker:         opts.Tracker,
		engine:          opts.Engine,
		cache:           opts.Cache,
		framesPerBuffer: opts.FramesPerBuffer,
		metrics:         opts.Metrics,
	}
	d.notifier = notify.NewDispatcher(d.tracker, d.writer, d.engine, opts.AudiopipeOptions, d.metrics)
	d.loadPresets()
	d.handlers = d.buildHandlerTable()
	return d
}

func (d *Dispatcher) buildHandlerTable() map[contracts.Method]handlerFunc {
	return map[contracts.Method]handlerFunc{
		contracts.MethodSystemPing:             handleSystemPing,
		contracts.MethodSystemInfo:              handleSystemInfo,
		contracts.MethodSystemShutdown:          handleSystemShutdown,
		contracts.MethodStatusGet:               handleStatusGet,
		contracts.MethodAudioListDevices:        handleAudioListDevices,
		contracts.MethodAudioSetDevice:          handleAudioSetDevice,
		contracts.MethodAudioMeterStart:         handleAudioMeterStart,
		contracts.MethodAudioMeterStop:          handleAudioMeterStop,
		contracts.MethodAudioMeterStatus:        handleAudioMeterStatus,
		contracts.MethodRecordingStart:          handleRecordingStart,
		contracts.MethodRecordingStop:           handleRecordingStop,
		contracts.MethodRecordingCancel:         handleRecordingCancel,
		contracts.MethodRecordingStatus:         handleRecordingStatus,
		contracts.MethodASRInitialize:           handleASRInitialize,
		contracts.MethodASRStatus:               handleASRStatus,
		contracts.MethodModelGetStatus:          handleModelGetStatus,
		contracts.MethodModelDownload:           handleModelDownload,
		contracts.MethodModelInstall:            handleModelDownload,
		contracts.MethodModelPurgeCache:         handleModelPurgeCache,
		contracts.MethodReplacementsGetRules:    handleReplacementsGetRules,
		contracts.MethodReplacementsSetRules:    handleReplacementsSetRules,
		contracts.MethodReplacementsGetPresets:  handleReplacementsGetPresets,
		contracts.MethodReplacementsGetPreset:   handleReplacementsGetPresetRules,
		contracts.MethodReplacementsPreview:     handleReplacementsPreview,
	}
}

// Run drives the request loop until EOF, a protocol-fatal framing
// error, or a clean system.shutdown. It returns the process exit code
// the caller should use (§6: 0 for clean shutdown/EOF, non-zero only
// for protocol-fatal conditions).
func (d *Dispatcher) Run(reader *protocol.LineReader) int {
	d.logger.Printf("sidecar starting (version %s, protocol %s)", d.version, contracts.ProtocolVersion)

	for {
		req, parseErr, err := reader.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.logger.Print("EOF received, shutting down")
				return 0
			}
			d.logger.Printf("fatal framing error: %v", err)
			return 1
		}
		if parseErr != nil {
			d.logger.Printf("parse error: %s", parseErr.Message)
			d.writer.WriteResponse(protocol.NewErrorResponse(nil, parseErr))
			continue
		}

		d.logger.Printf("received: %s (id=%s)", req.Method, string(req.ID))

		result, se := d.dispatch(req)
		var resp *protocol.Response
		if se != nil {
			resp = protocol.NewErrorResponse(req.ID, se)
		} else {
			resp = protocol.NewResponse(req.ID, result)
		}
		d.writer.WriteResponse(resp)

		if req.Method == string(contracts.MethodSystemShutdown) {
			d.logger.Print("shutdown complete")
			return 0
		}
	}
}

func (d *Dispatcher) dispatch(req *protocol.Request) (result any, se *protocol.SidecarError) {
	d.metrics.ObserveRequest(req.Method)
	handler, ok := d.handlers[contracts.Method(req.Method)]
	if !ok {
		se := protocol.NewError(protocol.KindMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), map[string]any{"method": req.Method})
		d.metrics.ObserveRequestError(req.Method, string(se.Kind))
		return nil, se
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			se = protocol.NewError(protocol.KindInternal, fmt.Sprintf("internal error handling %s", req.Method), nil)
			d.metrics.ObserveRequestError(req.Method, string(se.Kind))
		}
	}()
	result, se = handler(d, req.Params)
	if se != nil {
		d.metrics.ObserveRequestError(req.Method, string(se.Kind))
	}
	return result, se
}

func (d *Dispatcher) loadPresets() {
	if d.resolver == nil {
		return
	}
	path, err := d.resolver.Resolve(resources.PresetsRel)
	if err != nil {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		d.logger.Printf("failed to read presets at %s: %v", path, err)
		return
	}
	var presets []textpipe.Preset
	if err := json.Unmarshal(raw, &presets); err != nil {
		d.logger.Printf("failed to parse presets at %s: %v", path, err)
		return
	}
	d.presets = presets
}

func (d *Dispatcher) snapshotRules() []textpipe.Rule {
	d.rulesMu.Lock()
	defer d.rulesMu.Unlock()
	out := make([]textpipe.Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

func (d *Dispatcher) loadManifest(modelID string) (*modelcache.Manifest, error) {
	if d.resolver == nil {
		return nil, fmt.Errorf("no resource resolver configured")
	}
	path, err := d.resolver.Resolve(filepath.Join(resources.ModelManifestsDirRel, modelID+".json"))
	if err != nil {
		return nil, err
	}
	return modelcache.LoadManifest(path)
}

func (d *Dispatcher) resourcePaths() contracts.ResourcePaths {
	if d.resolver == nil {
		return contracts.ResourcePaths{}
	}
	candidates := d.resolver.Candidates()
	var sharedRoot string
	if len(candidates) > 0 {
		sharedRoot = candidates[0]
	}
	return contracts.ResourcePaths{
		SharedRoot:    sharedRoot,
		Presets:       d.resolver.ResolveOptional(resources.PresetsRel),
		ModelManifest: d.resolver.ResolveOptional(resources.ModelManifestRel),
		ModelCatalog:  d.resolver.ResolveOptional(resources.ModelCatalogRel),
		ContractsDir:  d.resolver.ResolveOptional(resources.ContractsDirRel),
	}
}

func (d *Dispatcher) resolveDevice(uid string) (audio.Device, *protocol.SidecarError) {
	if d.devices == nil {
		return audio.Device{}, protocol.NewError(protocol.KindDeviceNotFound, "no audio device manager configured", nil)
	}
	if uid == "" {
		dev, err := d.devices.Default()
		if err != nil {
			return audio.Device{}, protocol.NewError(protocol.KindDeviceNotFound, "no input device available", nil)
		}
		return dev, nil
	}
	dev, err := d.devices.FindByUID(uid)
	if err != nil {
		return audio.Device{}, protocol.NewError(protocol.KindDeviceNotFound, "device not found", map[string]any{"device_uid": uid})
	}
	return dev, nil
}

func engineStateToModelStatus(s asr.State) string {
	switch s {
	case asr.StateDownloading:
		return "downloading"
	case asr.StateLoading:
		return "verifying"
	case asr.StateReady:
		return "ready"
	case asr.StateError:
		return "error"
	default:
		return "missing"
	}
}

func cudaAvailable() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
