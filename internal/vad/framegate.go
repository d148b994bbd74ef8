package vad

import "math"

// framegateDetector is a dependency-free stand-in for the webrtcvad
// backend (§4.5, "webrtcvad" name). No pure-Go binding of libwebrtc's
// GMM frame classifier exists in the project's dependency set, so this
// backend approximates the same per-frame decision using short-frame
// energy and zero-crossing rate, the two signals a narrowband speech
// classifier leans on most heavily. It trades some accuracy against
// the real library for zero native dependencies.
type framegateDetector struct {
	sampleRate      int
	frameSamples    int
	energyThreshold float32
	zcrThreshold    float32
}

// aggressivenessEnergyScale maps webrtcvad's 0-3 aggressiveness levels
// onto a multiplier over the base per-frame energy gate: higher
// aggressiveness rejects more borderline frames as non-speech.
var aggressivenessEnergyScale = [4]float32{0.6, 1.0, 1.6, 2.4}

func newFramegateDetector(sampleRate, aggressiveness int) *framegateDetector {
	frameMs := 30
	frameSamples := sampleRate * frameMs / 1000
	if frameSamples <= 0 {
		return nil
	}
	scale := aggressivenessEnergyScale[clamp(aggressiveness, 0, 3)]
	return &framegateDetector{
		sampleRate:      sampleRate,
		frameSamples:    frameSamples,
		energyThreshold: 0.01 * scale,
		zcrThreshold:    0.15,
	}
}

// DetectSpeech splits the chunk into 30ms frames and flags the chunk
// as speech if any single frame looks voiced: above the energy gate
// and below the zero-crossing-rate ceiling that noise/fricatives blow
// past.
func (f *framegateDetector) DetectSpeech(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}
	for start := 0; start+f.frameSamples <= len(samples); start += f.frameSamples {
		frame := samples[start : start+f.frameSamples]
		if f.frameIsSpeech(frame) {
			return true
		}
	}
	if len(samples) < f.frameSamples {
		return f.frameIsSpeech(samples)
	}
	return false
}

func (f *framegateDetector) frameIsSpeech(frame []float32) bool {
	if len(frame) == 0 {
		return false
	}
	var sumSquares float64
	var crossings int
	for i, s := range frame {
		sumSquares += float64(s) * float64(s)
		if i > 0 && ((frame[i-1] >= 0) != (s >= 0)) {
			crossings++
		}
	}
	rms := float32(math.Sqrt(sumSquares / float64(len(frame))))
	zcr := float32(crossings) / float32(len(frame))
	return rms >= f.energyThreshold && zcr <= f.zcrThreshold
}
