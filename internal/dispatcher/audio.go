package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/openvoicy/sidecar/internal/audio"
	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/protocol"
)

func handleAudioListDevices(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	devices, err := d.devices.List()
	if err != nil {
		return nil, protocol.AsSidecarError(err)
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	return map[string]any{"devices": devices}, nil
}

func handleAudioSetDevice(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		DeviceUID string `json:"device_uid"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	uid, err := d.devices.SetActive(p.DeviceUID)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceNotFound) {
			return nil, protocol.NewError(protocol.KindDeviceNotFound, "device not found", map[string]any{"device_uid": p.DeviceUID})
		}
		return nil, protocol.AsSidecarError(err)
	}
	return map[string]string{"device_uid": uid}, nil
}

const (
	defaultMeterIntervalMs = 80
	minMeterIntervalMs     = 20
	maxMeterIntervalMs     = 500
)

func handleAudioMeterStart(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		DeviceUID  string `json:"device_uid"`
		IntervalMs int    `json:"interval_ms"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}

	d.meterMu.Lock()
	if d.meterRunning {
		d.meterMu.Unlock()
		return nil, protocol.NewError(protocol.KindAlreadyRunning, "audio meter is already running", nil)
	}
	d.meterMu.Unlock()

	d.recMu.Lock()
	recordingActive := d.recording != nil
	d.recMu.Unlock()
	if recordingActive {
		return nil, protocol.NewError(protocol.KindAlreadyRunning, "cannot start the standalone meter while a recording is active", nil)
	}

	device, se := d.resolveDevice(p.DeviceUID)
	if se != nil {
		return nil, se
	}

	interval := p.IntervalMs
	if interval == 0 {
		interval = defaultMeterIntervalMs
	}
	if interval < minMeterIntervalMs {
		interval = minMeterIntervalMs
	}
	if interval > maxMeterIntervalMs {
		interval = maxMeterIntervalMs
	}

	var throttleMu sync.Mutex
	var lastEmit time.Time
	onLevel := func(rms, peak float64) {
		throttleMu.Lock()
		if time.Since(lastEmit) < time.Duration(interval)*time.Millisecond {
			throttleMu.Unlock()
			return
		}
		lastEmit = time.Now()
		throttleMu.Unlock()
		d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventAudioLevel), contracts.AudioLevelPayload{
			RMS: rms, Peak: peak, Source: "meter",
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.meter.Start(ctx, device, d.framesPerBuffer, onLevel); err != nil {
		cancel()
		return nil, protocol.AsSidecarError(err)
	}

	d.meterMu.Lock()
	d.meterRunning = true
	d.meterIntervalMs = interval
	d.meterCancel = cancel
	d.meterMu.Unlock()
	d.metrics.SetMeterActive(true)

	return map[string]any{}, nil
}

func handleAudioMeterStop(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	d.meterMu.Lock()
	if !d.meterRunning {
		d.meterMu.Unlock()
		return map[string]any{}, nil
	}
	cancel := d.meterCancel
	d.meterRunning = false
	d.meterCancel = nil
	d.meterIntervalMs = 0
	d.meterMu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.metrics.SetMeterActive(false)
	if err := d.meter.Stop(); err != nil {
		return nil, protocol.AsSidecarError(err)
	}
	return map[string]any{}, nil
}

func handleAudioMeterStatus(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	d.meterMu.Lock()
	defer d.meterMu.Unlock()
	if !d.meterRunning {
		return map[string]any{"running": false}, nil
	}
	return map[string]any{"running": true, "interval_ms": d.meterIntervalMs}, nil
}
