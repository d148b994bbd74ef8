//go:build !portaudio

package audio

import "errors"

// ErrCaptureUnavailable indicates the sidecar was built without
// -tags portaudio, so no native device capture is compiled in.
var ErrCaptureUnavailable = errors.New("audio: device capture not available (build without -tags portaudio)")

// NewPortAudioCapturer is the default-build stand-in: it always fails.
// See capturer_portaudio.go for the real implementation and the
// matching device Lister.
func NewPortAudioCapturer(_ Device, _ int) (Capturer, error) {
	return nil, ErrCaptureUnavailable
}

// NewPortAudioLister is the default-build stand-in for device
// enumeration; it always returns an empty device list.
func NewPortAudioLister() Lister {
	return emptyLister{}
}

type emptyLister struct{}

func (emptyLister) ListDevices() ([]Device, error) { return nil, nil }
