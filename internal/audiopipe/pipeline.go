// Package audiopipe implements the deterministic audio preprocessing
// pipeline applied to every recorded buffer before it reaches the ASR
// engine (§4.6). The seven-step order is locked and must be preserved
// bit-for-bit by any reimplementation; each step is its own function so
// the lock is visible in a diff.
package audiopipe

import (
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// TargetSampleRate is the fixed output rate of the pipeline (§4.6).
const TargetSampleRate = 16000

// Options controls the two optional trailing steps.
type Options struct {
	Normalize    bool
	TrimSilence  bool
	SilenceDBFS  float64 // threshold for silence trim, e.g. -40
}

// Process runs the locked pipeline: float32 -> mono downmix -> resample
// to 16kHz -> DC-remove -> peak clamp -> optional normalize -> optional
// silence trim. input is interleaved float32 samples at sourceRate with
// sourceChannels channels. Output is always float32 mono 16kHz.
func Process(input []float32, sourceRate, sourceChannels int, opts Options) ([]float32, error) {
	mono := downmixMono(input, sourceChannels)
	resampled, err := resample16k(mono, sourceRate)
	if err != nil {
		return nil, err
	}
	resampled = removeDCOffset(resampled)
	resampled = peakClamp(resampled)
	if opts.Normalize {
		resampled = peakNormalize(resampled)
	}
	if opts.TrimSilence {
		resampled = trimSilence(resampled, opts.SilenceDBFS)
	}
	return resampled, nil
}

// downmixMono averages all channels in interleaved input down to one
// channel. toFloat32 is implicit: the pipeline's public entry point
// already requires float32 input; callers converting from another
// sample format do so before calling Process.
func downmixMono(input []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}
	frames := len(input) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += input[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func resample16k(mono []float32, sourceRate int) ([]float32, error) {
	if sourceRate == TargetSampleRate || len(mono) == 0 {
		out := make([]float32, len(mono))
		copy(out, mono)
		return out, nil
	}

	cfg := &resampling.Config{
		InputRate:  float64(sourceRate),
		OutputRate: float64(TargetSampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	r, err := resampling.New(cfg)
	if err != nil {
		return nil, err
	}

	in := make([]float64, len(mono))
	for i, s := range mono {
		in[i] = float64(s)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, err
	}
	result := make([]float32, len(out))
	for i, s := range out {
		result[i] = float32(s)
	}
	return result, nil
}

func removeDCOffset(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := float32(sum / float64(len(samples)))
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s - mean
	}
	return out
}

func peakClamp(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		default:
			out[i] = s
		}
	}
	return out
}

func peakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		abs := s
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
	}
	if peak == 0 {
		return samples
	}
	scale := 1 / peak
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * scale
	}
	return out
}

// trimSilence removes leading and trailing runs below thresholdDBFS,
// measured per-sample in dBFS. An all-silent buffer trims to empty,
// which is a valid pipeline output (§4.6): the transcription task still
// emits transcription_complete with empty text.
func trimSilence(samples []float32, thresholdDBFS float64) []float32 {
	if len(samples) == 0 {
		return samples
	}
	threshold := dbfsToLinear(thresholdDBFS)
	start := 0
	for start < len(samples) && absf(samples[start]) < threshold {
		start++
	}
	if start == len(samples) {
		return samples[:0]
	}
	end := len(samples)
	for end > start && absf(samples[end-1]) < threshold {
		end--
	}
	out := make([]float32, end-start)
	copy(out, samples[start:end])
	return out
}

func dbfsToLinear(db float64) float32 {
	return float32(math.Pow(10, db/20))
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
