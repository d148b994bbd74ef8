//go:build silero

package vad

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// sileroWindowSamples is the fixed window size Silero VAD v5
	// requires at 16kHz (32ms).
	sileroWindowSamples = 512
	sileroStateSize     = 128
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// sileroDetector runs Silero VAD v5 inference via ONNX Runtime. It
// accumulates incoming samples into 512-sample windows and reports
// speech if any completed window in the chunk crosses the configured
// threshold.
type sileroDetector struct {
	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32]
	stateTensor *ort.Tensor[float32]
	srTensor    *ort.Tensor[int64]

	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	buf       []float32
	threshold float64
}

func (d *Detector) loadSilero() *sileroDetector {
	if d.config.SileroModelPath == "" {
		return nil
	}
	det, err := newSileroDetector(d.config.SileroModelPath, d.config.SampleRate, d.config.EnergyThreshold)
	if err != nil {
		d.logf(fmt.Sprintf("silero backend unavailable: %v", err))
		return nil
	}
	return det
}

func newSileroDetector(modelPath string, sampleRate int, threshold float64) (*sileroDetector, error) {
	if sampleRate != DefaultSampleRate {
		return nil, fmt.Errorf("silero requires %d Hz input, got %d", DefaultSampleRate, sampleRate)
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSamples))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(sampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("create sample-rate tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create next-state tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &sileroDetector{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		buf:          make([]float32, 0, sileroWindowSamples*2),
		threshold:    threshold,
	}, nil
}

// detectSpeech buffers chunk and runs inference on each completed
// window, reporting speech if any window's probability meets the
// threshold. Used directly by sileroDowngrader, which owns the
// fallback-on-error behavior; detectSpeech's error return lets that
// wrapper downgrade the owning Detector.
func (s *sileroDetector) detectSpeech(chunk []float32) (bool, error) {
	s.buf = append(s.buf, chunk...)
	speech := false
	for len(s.buf) >= sileroWindowSamples {
		prob, err := s.infer(s.buf[:sileroWindowSamples])
		if err != nil {
			return false, err
		}
		s.buf = s.buf[sileroWindowSamples:]
		if float64(prob) >= s.threshold {
			speech = true
		}
	}
	return speech, nil
}

func (s *sileroDetector) infer(window []float32) (float32, error) {
	copy(s.inputTensor.GetData(), window)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("silero inference: %w", err)
	}
	prob := s.outputTensor.GetData()[0]
	copy(s.stateTensor.GetData(), s.stateNTensor.GetData())
	return prob, nil
}

// Close releases the ONNX Runtime session and tensors. Safe to call
// multiple times.
func (s *sileroDetector) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.stateTensor != nil {
		s.stateTensor.Destroy()
		s.stateTensor = nil
	}
	if s.srTensor != nil {
		s.srTensor.Destroy()
		s.srTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.stateNTensor != nil {
		s.stateNTensor.Destroy()
		s.stateNTensor = nil
	}
}
