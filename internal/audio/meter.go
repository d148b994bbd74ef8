package audio

import (
	"context"
	"math"
)

// computeLevels returns RMS and peak amplitude for one chunk, both in
// dBFS. An empty chunk reports -120 dBFS (effective silence floor)
// rather than -Inf, so it can round-trip through JSON.
func computeLevels(samples []float32) (rmsDBFS, peakDBFS float64) {
	if len(samples) == 0 {
		return silenceFloorDBFS, silenceFloorDBFS
	}
	var sumSquares float64
	var peak float32
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
		abs := s
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return linearToDBFS(rms), linearToDBFS(float64(peak))
}

const silenceFloorDBFS = -120.0

func linearToDBFS(v float64) float64 {
	if v <= 0 {
		return silenceFloorDBFS
	}
	db := 20 * math.Log10(v)
	if db < silenceFloorDBFS {
		return silenceFloorDBFS
	}
	return db
}

// Meter runs standalone level monitoring (source="meter") without
// recording: a device is captured and levels are reported via
// LevelFunc until Stop, with no audio transcribed (§4.4). It runs on a
// Recorder, so captured samples accumulate while the meter runs and are
// discarded on Stop.
type Meter struct {
	rec *Recorder
}

// NewMeter builds a Meter over factory.
func NewMeter(factory CapturerFactory) *Meter {
	return &Meter{rec: NewRecorder(factory)}
}

// Start begins reporting live levels for device via onLevel.
func (m *Meter) Start(ctx context.Context, device Device, framesPerBuffer int, onLevel LevelFunc) error {
	m.rec.OnLevel(onLevel)
	return m.rec.Start(ctx, device, framesPerBuffer)
}

// Stop ends level monitoring. Captured samples, if any accumulated,
// are discarded.
func (m *Meter) Stop() error {
	_, _, _, err := m.rec.Stop()
	return err
}
