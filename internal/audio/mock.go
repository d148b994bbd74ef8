package audio

import "context"

// mockLister returns a fixed device list, for tests and for hosts
// built without -tags portaudio that still want predictable devices
// (e.g. CI recording self-test fixtures).
type mockLister struct {
	devices []Device
}

func (m mockLister) ListDevices() ([]Device, error) {
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// NewMockLister builds a Lister returning devices verbatim, useful in
// tests that need deterministic UIDs without a real audio backend.
func NewMockLister(devices []Device) Lister {
	return mockLister{devices: devices}
}

// mockCapturer hands back pre-supplied chunks one at a time, then
// blocks until the context is cancelled, for deterministic recorder
// tests.
type mockCapturer struct {
	chunks     []Chunk
	idx        int
	sampleRate int
	channels   int
}

// NewMockCapturerFactory returns a CapturerFactory that ignores the
// requested device and always yields chunks in sequence.
func NewMockCapturerFactory(sampleRate, channels int, chunks []Chunk) CapturerFactory {
	return func(Device, int) (Capturer, error) {
		return &mockCapturer{chunks: chunks, sampleRate: sampleRate, channels: channels}, nil
	}
}

func (c *mockCapturer) SampleRate() int { return c.sampleRate }
func (c *mockCapturer) Channels() int   { return c.channels }

func (c *mockCapturer) Read(ctx context.Context) (Chunk, error) {
	if c.idx < len(c.chunks) {
		chunk := c.chunks[c.idx]
		c.idx++
		return chunk, nil
	}
	<-ctx.Done()
	return Chunk{}, ctx.Err()
}

func (c *mockCapturer) Close() error { return nil }
