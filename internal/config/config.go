package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	vadpkg "github.com/openvoicy/sidecar/internal/vad"
)

// Config contains all runtime settings for the sidecar process.
type Config struct {
	// CacheRootOverride, when non-empty, replaces the XDG-derived model
	// cache root (§6: XDG_CACHE_HOME / platform-standard caches).
	CacheRootOverride string

	// SharedResourceDevRoot is read from OPENVOICY_DEV_ROOT and becomes
	// the resource resolver's dev-layout candidate, used when running
	// from a source checkout rather than a frozen bundle.
	SharedResourceDevRoot string

	DebugBindAddr   string
	LogLevel        string
	FramesPerBuffer int

	VADBackend      vadpkg.Backend
	VADSilenceMs    int
	VADMinSpeechMs  int
	VADEnergyThresh float64

	SessionTTL time.Duration

	SelfTestCommand string
	SelfTestTimeout time.Duration
}

// Load reads environment variables and applies safe defaults (§6).
func Load() (Config, error) {
	cfg := Config{
		CacheRootOverride:     os.Getenv("OPENVOICY_CACHE_ROOT"),
		SharedResourceDevRoot: os.Getenv("OPENVOICY_DEV_ROOT"),
		DebugBindAddr:         envOrDefault("OPENVOICY_DEBUG_BIND_ADDR", ":0"),
		LogLevel:              envOrDefault("OPENVOICY_LOG_LEVEL", "info"),
		FramesPerBuffer:       1024,
		VADBackend:            vadpkg.BackendAuto,
		VADSilenceMs:          vadpkg.DefaultSilenceMs,
		VADMinSpeechMs:        vadpkg.DefaultMinSpeechMs,
		VADEnergyThresh:       vadpkg.DefaultEnergyThreshold,
		SessionTTL:            300 * time.Second,
		SelfTestCommand:       stringsTrimSpace("OPENVOICY_SIDECAR_COMMAND"),
		SelfTestTimeout:       10 * time.Second,
	}

	var err error
	cfg.FramesPerBuffer, err = intFromEnv("OPENVOICY_FRAMES_PER_BUFFER", cfg.FramesPerBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceMs, err = intFromEnv("OPENVOICY_VAD_SILENCE_MS", cfg.VADSilenceMs)
	if err != nil {
		return Config{}, err
	}
	cfg.VADMinSpeechMs, err = intFromEnv("OPENVOICY_VAD_MIN_SPEECH_MS", cfg.VADMinSpeechMs)
	if err != nil {
		return Config{}, err
	}
	if v := stringsTrimSpace("OPENVOICY_VAD_BACKEND"); v != "" {
		cfg.VADBackend = vadpkg.Backend(v)
	}
	cfg.SessionTTL, err = durationFromEnv("OPENVOICY_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SelfTestTimeout, err = durationFromEnvSeconds("OPENVOICY_SELF_TEST_TIMEOUT_S", cfg.SelfTestTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.FramesPerBuffer <= 0 {
		return Config{}, fmt.Errorf("OPENVOICY_FRAMES_PER_BUFFER must be positive")
	}
	if cfg.SessionTTL < time.Second {
		return Config{}, fmt.Errorf("OPENVOICY_SESSION_TTL must be at least 1s")
	}
	if cfg.SelfTestTimeout < time.Second {
		return Config{}, fmt.Errorf("OPENVOICY_SELF_TEST_TIMEOUT_S must be at least 1s")
	}

	if path := os.Getenv("OPENVOICY_CONFIG_FILE"); path != "" {
		if err := applyYAMLOverlay(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

// yamlOverlay is the optional on-disk overlay shape, applied on top of
// the env-derived Config so a host can check a config file into a
// deployment without reconstructing every environment variable. Only
// fields a deployment actually wants to pin are present; zero values
// are left untouched.
type yamlOverlay struct {
	CacheRoot       string `yaml:"cache_root"`
	SharedRoot      string `yaml:"shared_root"`
	DebugBindAddr   string `yaml:"debug_bind_addr"`
	LogLevel        string `yaml:"log_level"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	VADBackend      string `yaml:"vad_backend"`
}

// applyYAMLOverlay reads path (gopkg.in/yaml.v3) and merges any
// non-zero fields into cfg, env-derived values remaining the default
// for anything the file omits.
func applyYAMLOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config overlay %s: %w", path, err)
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parsing config overlay %s: %w", path, err)
	}
	if overlay.CacheRoot != "" {
		cfg.CacheRootOverride = overlay.CacheRoot
	}
	if overlay.SharedRoot != "" {
		cfg.SharedResourceDevRoot = overlay.SharedRoot
	}
	if overlay.DebugBindAddr != "" {
		cfg.DebugBindAddr = overlay.DebugBindAddr
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if overlay.FramesPerBuffer != 0 {
		cfg.FramesPerBuffer = overlay.FramesPerBuffer
	}
	if overlay.VADBackend != "" {
		cfg.VADBackend = vadpkg.Backend(overlay.VADBackend)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

// durationFromEnvSeconds parses a plain integer count of seconds, the
// shape OPENVOICY_SELF_TEST_TIMEOUT_S is specified in (§6).
func durationFromEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
