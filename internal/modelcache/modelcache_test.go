package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/protocol"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestActivateWhenTargetMissing(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, "staging")
	target := filepath.Join(dir, "model-a")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := activate(staging, target); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected target to exist: %v", err)
	}
}

func TestActivateReplacesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, "staging")
	target := filepath.Join(dir, "model-a")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "new.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "old.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := activate(staging, target); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(target, "new.txt")); err != nil {
		t.Fatalf("expected new content in target: %v", err)
	}
	if _, err := os.Stat(target + ".bak"); !os.IsNotExist(err) {
		t.Fatal("expected backup dir to be cleaned up after successful activate")
	}
}

func TestVerifyFileDetectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyFile(path, 999, sha256Hex("hello")); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestVerifyFileDetectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyFile(path, 5, sha256Hex("wrong")); err == nil {
		t.Fatal("expected sha256 mismatch error")
	}
}

func TestVerifyFileAccepts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyFile(path, 5, sha256Hex("hello")); err != nil {
		t.Fatalf("expected valid file to verify, got %v", err)
	}
}

func TestInstallFullLifecycle(t *testing.T) {
	content := "model-weights-content"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer srv.Close()

	manifest := &Manifest{
		ModelID:        "tiny-test-model",
		ModelFamily:    FamilyParakeet,
		Revision:       "v1",
		Source:         "test",
		TotalSizeBytes: int64(len(content)),
		Files: []ManifestFile{
			{Path: "model.bin", SizeBytes: int64(len(content)), SHA256: sha256Hex(content), PrimaryURL: srv.URL},
		},
	}

	root := t.TempDir()
	cache := NewCache(root)

	var progressCalls int
	err := cache.Install(context.Background(), manifest, func(p contracts.ModelProgressPayload) {
		progressCalls++
	})
	if err != nil {
		t.Fatal(err)
	}

	if !cache.IsInstalled("tiny-test-model") {
		t.Fatal("expected model to be installed")
	}
	data, err := os.ReadFile(filepath.Join(root, "tiny-test-model", "model.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Fatalf("got %q want %q", data, content)
	}
	if _, err := os.Stat(filepath.Join(root, ".partial", "tiny-test-model")); !os.IsNotExist(err) {
		t.Fatal("expected staging dir to be gone after activation")
	}
}

func TestInstallCorruptDownloadCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bad-model"))
	}))
	defer srv.Close()

	manifest := &Manifest{
		ModelID:        "bad-model",
		ModelFamily:    FamilyParakeet,
		Revision:       "v1",
		Source:         "test",
		TotalSizeBytes: 9,
		Files: []ManifestFile{
			{Path: "model.bin", SizeBytes: 9, SHA256: sha256Hex("good-model"), PrimaryURL: srv.URL},
		},
	}

	root := t.TempDir()
	cache := NewCache(root)

	err := cache.Install(context.Background(), manifest, nil)
	if err == nil {
		t.Fatal("expected corrupt download to fail install")
	}
	se := protocol.AsSidecarError(err)
	if se.Kind != protocol.KindCacheCorrupt {
		t.Fatalf("expected E_CACHE_CORRUPT, got %s", se.Kind)
	}
	if _, statErr := os.Stat(filepath.Join(root, ".partial", "bad-model", "model.bin")); !os.IsNotExist(statErr) {
		t.Fatal("expected partial file to be removed")
	}
	if _, statErr := os.Stat(filepath.Join(root, "bad-model")); !os.IsNotExist(statErr) {
		t.Fatal("expected model directory to never be created")
	}
}

func TestPurgeCacheRejectsInUseModel(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "loaded-model"), 0o755); err != nil {
		t.Fatal(err)
	}
	cache := NewCache(root)
	err := cache.PurgeCache("loaded-model", func(id string) bool { return id == "loaded-model" })
	se := protocol.AsSidecarError(err)
	if se == nil || se.Kind != protocol.KindModelInUse {
		t.Fatalf("expected E_MODEL_IN_USE, got %v", err)
	}
}

func TestPurgeCacheRemovesModel(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "old-model"), 0o755); err != nil {
		t.Fatal(err)
	}
	cache := NewCache(root)
	if err := cache.PurgeCache("old-model", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "old-model")); !os.IsNotExist(err) {
		t.Fatal("expected model directory removed")
	}
}

func TestDownloadFileFallsBackToMirror(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("SAMPLE_CONTENT"))
	}))
	defer good.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "model.bin")
	err := downloadFile(context.Background(), []string{bad.URL, good.URL}, dest, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "SAMPLE_CONTENT" {
		t.Fatalf("got %q", data)
	}
}
