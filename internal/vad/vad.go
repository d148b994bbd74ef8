// Package vad implements the chunk-driven voice activity detector used
// for optional recording auto-stop (§4.5). The detector consumes mono
// float32 audio chunks and reports a VadState; callers feed chunks as
// they arrive from the capture stream and watch for the state to reach
// StateAutoStop, which is sticky once reached.
package vad

import (
	"math"
	"strings"
)

const (
	DefaultSampleRate      = 16000
	DefaultSilenceMs       = 1200
	DefaultMinSpeechMs     = 250
	DefaultEnergyThreshold = 0.015

	MinSilenceMs   = 400
	MaxSilenceMs   = 5000
	MinMinSpeechMs = 100
	MaxMinSpeechMs = 2000

	DefaultWebRTCAggressiveness = 2
)

// State is the detector's output for each processed chunk.
type State string

const (
	StateWaitingForSpeech State = "waiting_for_speech"
	StateSpeech           State = "speech"
	StateSilence          State = "silence"
	StateAutoStop         State = "auto_stop"
)

// Backend names the speech-detection strategy behind a Detector.
type Backend string

const (
	BackendAuto    Backend = "auto"
	BackendEnergy  Backend = "energy"
	BackendWebRTC  Backend = "webrtcvad"
	BackendSilero  Backend = "silero"
)

var supportedBackends = map[Backend]bool{
	BackendAuto:   true,
	BackendEnergy: true,
	BackendWebRTC: true,
	BackendSilero: true,
}

var webrtcSupportedSampleRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// Config controls detector behavior. Zero value is invalid; start from
// NewConfig. NewDetector clamps out-of-range fields into their
// documented bounds rather than rejecting them.
type Config struct {
	SampleRate            int
	SilenceMs             int
	MinSpeechMs           int
	EnergyThreshold       float64
	Backend               Backend
	WebRTCAggressiveness  int

	// SileroModelPath is the on-disk location of the Silero VAD v5 ONNX
	// model, resolved by the caller through the shared resource
	// resolver (§4.1). Ignored unless built with -tags silero.
	SileroModelPath string
}

// NewConfig returns a Config with defaults filled in and every field
// clamped to its supported range, mirroring the detector's tolerance
// for host-supplied values that are out of bounds rather than invalid.
func NewConfig() Config {
	return Config{
		SampleRate:           DefaultSampleRate,
		SilenceMs:            DefaultSilenceMs,
		MinSpeechMs:          DefaultMinSpeechMs,
		EnergyThreshold:      DefaultEnergyThreshold,
		Backend:              BackendAuto,
		WebRTCAggressiveness: DefaultWebRTCAggressiveness,
	}
}

func (c *Config) normalize(warn func(string)) {
	if c.SampleRate < 1 {
		c.SampleRate = 1
	}
	c.SilenceMs = clamp(c.SilenceMs, MinSilenceMs, MaxSilenceMs)
	c.MinSpeechMs = clamp(c.MinSpeechMs, MinMinSpeechMs, MaxMinSpeechMs)
	if c.EnergyThreshold < 0 {
		c.EnergyThreshold = 0
	}
	c.Backend = Backend(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	if !supportedBackends[c.Backend] {
		if warn != nil {
			warn("unsupported VAD backend '" + string(c.Backend) + "', falling back to auto")
		}
		c.Backend = BackendAuto
	}
	c.WebRTCAggressiveness = clamp(c.WebRTCAggressiveness, 0, 3)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// speechDetector is implemented by each backend. DetectSpeech receives
// one already-normalized mono float32 chunk and reports whether it
// judges the chunk to contain speech.
type speechDetector interface {
	DetectSpeech(samples []float32) bool
}

// Detector is a chunk-based VAD state machine. It is not safe for
// concurrent use; each recording session owns its own Detector.
type Detector struct {
	config      Config
	state       State
	speechMs    float64
	silenceMs   float64
	backendName Backend
	backendImpl speechDetector
	logf        func(string)
}

// NewDetector builds a Detector, resolving "auto" to the strongest
// backend available: webrtcvad-equivalent framegate, then silero, then
// the always-available energy backend.
func NewDetector(cfg Config, logf func(string)) *Detector {
	if logf == nil {
		logf = func(string) {}
	}
	cfg.normalize(logf)
	d := &Detector{config: cfg, state: StateWaitingForSpeech, logf: logf}
	d.backendName, d.backendImpl = d.initializeBackend()
	return d
}

// State returns the detector's current state without consuming audio.
func (d *Detector) State() State { return d.state }

// Backend returns the backend actually in effect, which may differ
// from the configured one if "auto" resolved to a fallback or a
// backend failed and was permanently downgraded.
func (d *Detector) Backend() Backend { return d.backendName }

// Reset returns the detector to its initial waiting state. The
// resolved backend is left in place; callers that want to re-probe
// backend availability should construct a new Detector instead.
func (d *Detector) Reset() {
	d.state = StateWaitingForSpeech
	d.speechMs = 0
	d.silenceMs = 0
}

// FeedAudio consumes one mono float32 chunk and returns the resulting
// state. Once StateAutoStop is reached it is sticky: further chunks do
// not change the state (P10).
func (d *Detector) FeedAudio(chunk []float32) State {
	if d.state == StateAutoStop {
		return d.state
	}
	if len(chunk) == 0 {
		return d.state
	}

	durationMs := float64(len(chunk)) * 1000.0 / float64(d.config.SampleRate)
	isSpeech := d.detectSpeech(chunk)

	if isSpeech {
		d.speechMs += durationMs
		d.silenceMs = 0
		d.state = StateSpeech
		return d.state
	}

	// Ignore silence before enough speech has accumulated, so a short
	// accidental noise blip cannot trigger auto-stop on its own.
	if d.speechMs < float64(d.config.MinSpeechMs) {
		d.silenceMs = 0
		d.state = StateWaitingForSpeech
		return d.state
	}

	d.silenceMs += durationMs
	if d.silenceMs >= float64(d.config.SilenceMs) {
		d.state = StateAutoStop
	} else {
		d.state = StateSilence
	}
	return d.state
}

func (d *Detector) detectSpeech(chunk []float32) bool {
	if d.backendImpl != nil {
		return d.backendImpl.DetectSpeech(chunk)
	}
	return detectSpeechEnergy(chunk, d.config.EnergyThreshold)
}

func (d *Detector) initializeBackend() (Backend, speechDetector) {
	requested := d.config.Backend

	if requested == BackendAuto || requested == BackendWebRTC {
		if fg := d.loadFramegate(); fg != nil {
			return BackendWebRTC, fg
		}
		if requested == BackendWebRTC {
			d.logf("webrtcvad backend unavailable, falling back to energy VAD")
		}
	}

	if requested == BackendAuto || requested == BackendSilero {
		if sl := d.loadSilero(); sl != nil {
			return BackendSilero, &sileroDowngrader{detector: d, impl: sl}
		}
		if requested == BackendSilero {
			d.logf("silero backend unavailable, falling back to energy VAD")
		}
	}

	return BackendEnergy, nil
}

func (d *Detector) loadFramegate() speechDetector {
	if !webrtcSupportedSampleRates[d.config.SampleRate] {
		return nil
	}
	return newFramegateDetector(d.config.SampleRate, d.config.WebRTCAggressiveness)
}

// sileroDowngrader wraps a sileroDetector so that a hard inference
// failure permanently downgrades the owning Detector to the energy
// backend, matching the "disable backend after first hard failure"
// behavior required of the silero path.
type sileroDowngrader struct {
	detector *Detector
	impl     *sileroDetector
}

func (s *sileroDowngrader) DetectSpeech(samples []float32) bool {
	isSpeech, err := s.impl.detectSpeech(samples)
	if err != nil {
		s.detector.backendName = BackendEnergy
		s.detector.backendImpl = nil
		return detectSpeechEnergy(samples, s.detector.config.EnergyThreshold)
	}
	return isSpeech
}

func detectSpeechEnergy(samples []float32, threshold float64) bool {
	if len(samples) == 0 {
		return false
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return rms >= threshold
}

// pcm16ToFloat32 converts little-endian signed 16-bit PCM to mono
// float32 samples normalized to [-1, 1], for callers whose capture
// layer hands over raw microphone bytes instead of decoded floats.
func pcm16ToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		out[i] = float32(int16(u)) / 32768.0
	}
	return out
}
