package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openvoicy/sidecar/internal/vad"
)

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"OPENVOICY_CACHE_ROOT",
		"OPENVOICY_DEV_ROOT",
		"OPENVOICY_DEBUG_BIND_ADDR",
		"OPENVOICY_LOG_LEVEL",
		"OPENVOICY_FRAMES_PER_BUFFER",
		"OPENVOICY_VAD_BACKEND",
		"OPENVOICY_VAD_SILENCE_MS",
		"OPENVOICY_VAD_MIN_SPEECH_MS",
		"OPENVOICY_SESSION_TTL",
		"OPENVOICY_SIDECAR_COMMAND",
		"OPENVOICY_SELF_TEST_TIMEOUT_S",
		"OPENVOICY_CONFIG_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.FramesPerBuffer != 1024 {
		t.Fatalf("FramesPerBuffer = %d, want 1024", cfg.FramesPerBuffer)
	}
	if cfg.VADBackend != vad.BackendAuto {
		t.Fatalf("VADBackend = %q, want auto", cfg.VADBackend)
	}
	if cfg.SessionTTL != 300*time.Second {
		t.Fatalf("SessionTTL = %s, want 300s", cfg.SessionTTL)
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENVOICY_CACHE_ROOT", "/tmp/openvoicy-cache")
	t.Setenv("OPENVOICY_FRAMES_PER_BUFFER", "2048")
	t.Setenv("OPENVOICY_VAD_BACKEND", "energy")
	t.Setenv("OPENVOICY_VAD_SILENCE_MS", "2000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheRootOverride != "/tmp/openvoicy-cache" {
		t.Fatalf("CacheRootOverride = %q", cfg.CacheRootOverride)
	}
	if cfg.FramesPerBuffer != 2048 {
		t.Fatalf("FramesPerBuffer = %d, want 2048", cfg.FramesPerBuffer)
	}
	if cfg.VADBackend != vad.BackendEnergy {
		t.Fatalf("VADBackend = %q, want energy", cfg.VADBackend)
	}
	if cfg.VADSilenceMs != 2000 {
		t.Fatalf("VADSilenceMs = %d, want 2000", cfg.VADSilenceMs)
	}
}

func TestLoadRejectsInvalidFramesPerBuffer(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENVOICY_FRAMES_PER_BUFFER", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero frames_per_buffer")
	}
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	setCoreEnvEmpty(t)

	path := filepath.Join(t.TempDir(), "sidecar.yaml")
	contents := "debug_bind_addr: \":9999\"\nframes_per_buffer: 512\nvad_backend: webrtcvad\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENVOICY_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DebugBindAddr != ":9999" {
		t.Fatalf("DebugBindAddr = %q, want :9999", cfg.DebugBindAddr)
	}
	if cfg.FramesPerBuffer != 512 {
		t.Fatalf("FramesPerBuffer = %d, want 512", cfg.FramesPerBuffer)
	}
	if cfg.VADBackend != vad.BackendWebRTC {
		t.Fatalf("VADBackend = %q, want webrtcvad", cfg.VADBackend)
	}
}

