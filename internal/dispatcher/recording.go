package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/notify"
	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/vad"
)

type recordingStartParams struct {
	SessionID string          `json:"session_id"`
	DeviceUID string          `json:"device_uid"`
	Language  string          `json:"language"`
	VAD       *vadStartParams `json:"vad"`
}

type vadStartParams struct {
	Enabled     bool   `json:"enabled"`
	SilenceMs   int    `json:"silence_ms"`
	MinSpeechMs int    `json:"min_speech_ms"`
	Backend     string `json:"backend"`
}

func handleRecordingStart(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p recordingStartParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}

	d.recMu.Lock()
	if d.recording != nil {
		d.recMu.Unlock()
		return nil, protocol.NewError(protocol.KindAlreadyRecording, "a recording is already in progress", nil)
	}
	d.recMu.Unlock()

	d.meterMu.Lock()
	meterActive := d.meterRunning
	d.meterMu.Unlock()
	if meterActive {
		return nil, protocol.NewError(protocol.KindAlreadyRunning, "cannot start a recording while the standalone meter is running", nil)
	}

	device, se := d.resolveDevice(p.DeviceUID)
	if se != nil {
		return nil, se
	}

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var detector *vad.Detector
	if p.VAD != nil && p.VAD.Enabled {
		cfg := vad.NewConfig()
		if p.VAD.SilenceMs != 0 {
			cfg.SilenceMs = p.VAD.SilenceMs
		}
		if p.VAD.MinSpeechMs != 0 {
			cfg.MinSpeechMs = p.VAD.MinSpeechMs
		}
		if p.VAD.Backend != "" {
			cfg.Backend = vad.Backend(p.VAD.Backend)
		}
		detector = vad.NewDetector(cfg, func(msg string) { d.logger.Print(msg) })
	}

	d.recorder.OnLevel(func(rms, peak float64) {
		d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventAudioLevel), contracts.AudioLevelPayload{
			RMS: rms, Peak: peak, Source: "recording", SessionID: sessionID,
		}))
	})

	if detector != nil {
		autoStopTriggered := false
		d.recorder.OnChunk(func(samples []float32, channels int) {
			if autoStopTriggered {
				return
			}
			mono := downmix(samples, channels)
			if detector.FeedAudio(mono) == vad.StateAutoStop {
				autoStopTriggered = true
				d.metrics.ObserveVADAutoStop()
				go d.autoStop(sessionID)
			}
		})
	} else {
		d.recorder.OnChunk(nil)
	}

	if err := d.recorder.Start(context.Background(), device, d.framesPerBuffer); err != nil {
		return nil, protocol.AsSidecarError(err)
	}

	d.recMu.Lock()
	d.recording = &recordingState{
		sessionID: sessionID,
		deviceUID: device.UID,
		language:  p.Language,
		startedAt: time.Now(),
	}
	d.recMu.Unlock()

	d.metrics.ObserveRecordingStarted()
	d.metrics.SetActiveRecordings(true)

	d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventStatusChanged), contracts.StatusChangedPayload{State: "recording"}))

	return map[string]string{"session_id": sessionID}, nil
}

func handleRecordingStop(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	if p.SessionID == "" {
		return nil, protocol.NewError(protocol.KindInvalidParams, "session_id is required", nil)
	}
	result, se := d.stopActiveRecording(p.SessionID)
	if se != nil {
		return nil, se
	}
	return result, nil
}

func handleRecordingCancel(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}

	d.recMu.Lock()
	if d.recording == nil {
		d.recMu.Unlock()
		return nil, protocol.NewError(protocol.KindNotRecording, "no recording is in progress", nil)
	}
	if p.SessionID != "" && p.SessionID != d.recording.sessionID {
		active := d.recording.sessionID
		d.recMu.Unlock()
		return nil, protocol.NewError(protocol.KindInvalidSession, "session_id does not match the active recording", map[string]any{"active_session_id": active})
	}
	sessionID := d.recording.sessionID
	d.recording = nil
	d.recMu.Unlock()

	d.recorder.OnChunk(nil)
	_, _, _, _ = d.recorder.Stop()
	d.tracker.MarkCancelled(sessionID)
	d.metrics.ObserveRecordingCancelled()
	d.metrics.SetActiveRecordings(false)

	d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventStatusChanged), contracts.StatusChangedPayload{State: "idle"}))

	return map[string]any{"cancelled": true, "session_id": sessionID}, nil
}

// stopActiveRecording drains the active recording's buffer, hands it
// to the background notify.Dispatcher, and registers the session with
// the tracker before returning so a racing recording.cancel cannot slip
// in between the audio being captured and the session becoming visible
// to the tracker (§4.4: "register the session with C3 before returning").
func (d *Dispatcher) stopActiveRecording(expectedSessionID string) (contracts.RecordingStopResult, *protocol.SidecarError) {
	d.recMu.Lock()
	if d.recording == nil {
		d.recMu.Unlock()
		return contracts.RecordingStopResult{}, protocol.NewError(protocol.KindNotRecording, "no recording is in progress", nil)
	}
	if d.recording.sessionID != expectedSessionID {
		active := d.recording.sessionID
		d.recMu.Unlock()
		return contracts.RecordingStopResult{}, protocol.NewError(protocol.KindInvalidSession, "session_id does not match the active recording", map[string]any{"active_session_id": active})
	}
	sessionID := d.recording.sessionID
	startedAt := d.recording.startedAt
	d.recording = nil
	d.recMu.Unlock()

	d.recorder.OnChunk(nil)
	samples, sourceRate, sourceChannels, err := d.recorder.Stop()
	if err != nil {
		return contracts.RecordingStopResult{}, protocol.AsSidecarError(err)
	}

	durationMs := time.Since(startedAt).Milliseconds()
	d.metrics.ObserveRecordingCompleted()
	d.metrics.SetActiveRecordings(false)

	d.tracker.Register(sessionID)
	d.notifier.Submit(notify.Job{
		SessionID:      sessionID,
		Samples:        samples,
		SourceRate:     sourceRate,
		SourceChannels: sourceChannels,
		Rules:          d.snapshotRules(),
	})

	d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventStatusChanged), contracts.StatusChangedPayload{State: "idle"}))

	return contracts.RecordingStopResult{
		SessionID:     sessionID,
		AudioDuration: durationMs,
		SampleRate:    sourceRate,
		Channels:      sourceChannels,
	}, nil
}

func handleRecordingStatus(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	d.recMu.Lock()
	defer d.recMu.Unlock()
	if d.recording == nil {
		return map[string]any{"recording": false}, nil
	}
	return map[string]any{
		"recording":    true,
		"session_id":   d.recording.sessionID,
		"device_uid":   d.recording.deviceUID,
		"elapsed_ms":   time.Since(d.recording.startedAt).Milliseconds(),
	}, nil
}

// autoStop is invoked from a VAD chunk callback on its own goroutine:
// Recorder.Stop blocks until the capture loop's Read returns, and that
// same loop is what invokes OnChunk, so calling stopActiveRecording
// synchronously from inside OnChunk would deadlock.
func (d *Dispatcher) autoStop(sessionID string) {
	if _, se := d.stopActiveRecording(sessionID); se != nil {
		d.logger.Printf("vad auto-stop for session %s: %s", sessionID, se.Message)
	}
}
