// Package audio implements input-device enumeration, selection, and
// capture for the recording pipeline (§4.4). Device identity is a
// hash-based UID stable across sidecar restarts; capture itself is
// behind the Capturer interface so the rest of the package builds and
// tests without a native audio library.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// ErrDeviceNotFound is returned when a UID does not match any
// currently enumerated device.
var ErrDeviceNotFound = errors.New("audio: device not found")

// Device describes one audio input device.
type Device struct {
	UID               string `json:"uid"`
	Name              string `json:"name"`
	IsDefault         bool   `json:"is_default"`
	DefaultSampleRate int    `json:"default_sample_rate"`
	Channels          int    `json:"channels"`
	HostAPI           string `json:"-"`
}

// Lister enumerates the audio input devices currently visible to the
// host. Implementations must return an empty slice (not an error) when
// no devices are available; ErrMicPermission-equivalent failures are
// the only error case.
type Lister interface {
	ListDevices() ([]Device, error)
}

// stableUID hashes name|hostAPI|maxInputChannels to a 12-hex-character
// id and prefixes it by platform, so the same physical device keeps
// the same identifier across restarts without depending on an index
// that can shift as devices are plugged and unplugged.
func stableUID(name, hostAPI string, maxInputChannels int) string {
	idString := strings.Join([]string{name, hostAPI, strconv.Itoa(maxInputChannels)}, "|")
	sum := sha256.Sum256([]byte(idString))
	digest := hex.EncodeToString(sum[:])[:12]

	prefix := "linux"
	switch runtime.GOOS {
	case "darwin":
		prefix = "macos"
	case "windows":
		prefix = "win"
	}
	return prefix + ":" + digest
}

// Manager tracks the currently selected input device. Selection is
// process-wide state (there is one microphone), so callers share a
// single Manager built over the host's Lister.
type Manager struct {
	lister Lister

	mu         sync.Mutex
	activeUID  string
}

// NewManager builds a Manager over lister.
func NewManager(lister Lister) *Manager {
	return &Manager{lister: lister}
}

// List returns all available input devices.
func (m *Manager) List() ([]Device, error) {
	return m.lister.ListDevices()
}

// FindByUID returns the device with the given UID, or ErrDeviceNotFound.
func (m *Manager) FindByUID(uid string) (Device, error) {
	devices, err := m.lister.ListDevices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.UID == uid {
			return d, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}

// Default returns the device marked default, or the first device if
// none is marked, or ErrDeviceNotFound if no devices are present.
func (m *Manager) Default() (Device, error) {
	devices, err := m.lister.ListDevices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.IsDefault {
			return d, nil
		}
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return Device{}, ErrDeviceNotFound
}

// SetActive selects uid as the active recording device. An empty uid
// selects the default device. Returns the resolved UID.
func (m *Manager) SetActive(uid string) (string, error) {
	if uid == "" {
		d, err := m.Default()
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				m.mu.Lock()
				m.activeUID = ""
				m.mu.Unlock()
				return "", nil
			}
			return "", err
		}
		m.mu.Lock()
		m.activeUID = d.UID
		m.mu.Unlock()
		return d.UID, nil
	}

	if _, err := m.FindByUID(uid); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.activeUID = uid
	m.mu.Unlock()
	return uid, nil
}
