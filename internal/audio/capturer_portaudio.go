//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	paInitOnce sync.Once
	paInitErr  error
)

func ensurePortAudio() error {
	paInitOnce.Do(func() {
		paInitErr = portaudio.Initialize()
	})
	return paInitErr
}

// portaudioCapturer streams float32 samples from a PortAudio input
// stream, following the blocking read loop used for microphone
// capture in AltairaLabs-PromptKit's voice-chat example
// (OpenDefaultStream/stream.Read/stream.Close), generalized here to a
// specific, UID-selected device instead of always the system default.
type portaudioCapturer struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
	channels   int
}

// NewPortAudioCapturer opens device for input at its own default
// sample rate and mono-or-native channel count.
func NewPortAudioCapturer(device Device, framesPerBuffer int) (Capturer, error) {
	if err := ensurePortAudio(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate portaudio devices: %w", err)
	}

	var info *portaudio.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		hostAPIName := "unknown"
		if d.HostApi != nil {
			hostAPIName = d.HostApi.Name
		}
		if stableUID(d.Name, hostAPIName, d.MaxInputChannels) == device.UID {
			info = d
			break
		}
	}
	if info == nil {
		return nil, ErrDeviceNotFound
	}

	channels := device.Channels
	if channels <= 0 {
		channels = 1
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = 160 // 10ms at 16kHz
	}

	buf := make([]float32, framesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      info.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start portaudio stream: %w", err)
	}

	return &portaudioCapturer{
		stream:     stream,
		buf:        buf,
		sampleRate: int(info.DefaultSampleRate),
		channels:   channels,
	}, nil
}

func (c *portaudioCapturer) SampleRate() int { return c.sampleRate }
func (c *portaudioCapturer) Channels() int   { return c.channels }

func (c *portaudioCapturer) Read(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if err := c.stream.Read(); err != nil {
		return Chunk{}, fmt.Errorf("read portaudio stream: %w", err)
	}
	out := make([]float32, len(c.buf))
	copy(out, c.buf)
	return Chunk{Samples: out, Channels: c.channels}, nil
}

func (c *portaudioCapturer) Close() error {
	c.stream.Stop()
	return c.stream.Close()
}

// NewPortAudioLister enumerates real input devices via PortAudio,
// generating stable UIDs the same way as find_device_by_uid's Python
// original.
func NewPortAudioLister() Lister {
	return portaudioLister{}
}

type portaudioLister struct{}

func (portaudioLister) ListDevices() ([]Device, error) {
	if err := ensurePortAudio(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate portaudio devices: %w", err)
	}

	defaultIn, _ := portaudio.DefaultInputDevice()

	var out []Device
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		hostAPIName := "unknown"
		if d.HostApi != nil {
			hostAPIName = d.HostApi.Name
		}
		out = append(out, Device{
			UID:               stableUID(d.Name, hostAPIName, d.MaxInputChannels),
			Name:              d.Name,
			IsDefault:         defaultIn != nil && defaultIn.Name == d.Name,
			DefaultSampleRate: int(d.DefaultSampleRate),
			Channels:          d.MaxInputChannels,
			HostAPI:           hostAPIName,
		})
	}
	return out, nil
}
