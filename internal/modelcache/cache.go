package modelcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/protocol"
)

// CacheRoot resolves the model cache root: $XDG_CACHE_HOME/openvoicy/models
// if set, else the platform cache dir via os.UserCacheDir().
func CacheRoot() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "openvoicy", "models"), nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "openvoicy", "models"), nil
}

// Cache manages one cache root's install/verify/purge lifecycle.
type Cache struct {
	root        string
	lockTimeout time.Duration
}

// NewCache builds a Cache rooted at root.
func NewCache(root string) *Cache {
	return &Cache{root: root, lockTimeout: 30 * time.Second}
}

func (c *Cache) modelDir(modelID string) string   { return filepath.Join(c.root, modelID) }
func (c *Cache) stagingDir(modelID string) string { return filepath.Join(c.root, ".partial", modelID) }

// ModelDir returns the activated on-disk directory for modelID, used
// by internal/asr to point a backend's Initialize at the right path.
func (c *Cache) ModelDir(modelID string) string { return c.modelDir(modelID) }

// IsInstalled reports whether modelID has a verified copy on disk (a
// manifest.json present in its activated directory). It does not
// re-verify file hashes; callers that need certainty call Verify.
func (c *Cache) IsInstalled(modelID string) bool {
	_, err := os.Stat(filepath.Join(c.modelDir(modelID), "manifest.json"))
	return err == nil
}

// Install runs the full seven-step lifecycle for manifest m (§4.9).
// onProgress is called as each file downloads; it may be nil.
func (c *Cache) Install(ctx context.Context, m *Manifest, onProgress func(contracts.ModelProgressPayload)) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return protocol.NewError(protocol.KindInternal, fmt.Sprintf("create cache root: %v", err), nil)
	}

	// Step 1: exclusive lock.
	lock, err := acquireLock(c.root, c.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	// Step 2: disk space preflight, required >= 1.5x total size.
	available, err := availableBytes(c.root)
	if err != nil {
		return protocol.NewError(protocol.KindInternal, fmt.Sprintf("check disk space: %v", err), nil)
	}
	required := int64(float64(m.TotalSizeBytes) * 1.5)
	if available < required {
		return protocol.NewError(protocol.KindDiskFull, "insufficient disk space for model install", map[string]any{
			"required":  required,
			"available": available,
		})
	}

	// Step 3: staging dir + per-file download.
	staging := c.stagingDir(m.ModelID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return protocol.NewError(protocol.KindInternal, fmt.Sprintf("create staging dir: %v", err), nil)
	}

	filesTotal := len(m.Files)
	for i, file := range m.Files {
		destPath := filepath.Join(staging, file.Path)
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return protocol.NewError(protocol.KindInternal, fmt.Sprintf("create staging subdir: %v", err), nil)
		}

		var lastEmit time.Time
		var written int64
		onFileProgress := func(delta int64) {
			written += delta
			if onProgress == nil {
				return
			}
			if time.Since(lastEmit) < progressInterval {
				return
			}
			lastEmit = time.Now()
			onProgress(contracts.ModelProgressPayload{
				ModelID:        m.ModelID,
				Current:        written,
				Total:          file.SizeBytes,
				Unit:           "bytes",
				CurrentFile:    file.Path,
				FilesCompleted: i,
				FilesTotal:     filesTotal,
			})
		}

		if err := downloadFile(ctx, file.URLs(), destPath, onFileProgress); err != nil {
			os.Remove(destPath)
			return err
		}

		// Step 4: verify.
		if err := verifyFile(destPath, file.SizeBytes, file.SHA256); err != nil {
			os.Remove(destPath)
			os.RemoveAll(staging)
			return protocol.NewError(protocol.KindCacheCorrupt, fmt.Sprintf("verification failed for %s: %v", file.Path, err), map[string]any{
				"file": file.Path,
			})
		}

		if onProgress != nil {
			onProgress(contracts.ModelProgressPayload{
				ModelID:        m.ModelID,
				Current:        file.SizeBytes,
				Total:          file.SizeBytes,
				Unit:           "bytes",
				CurrentFile:    file.Path,
				FilesCompleted: i + 1,
				FilesTotal:     filesTotal,
			})
		}
	}

	// Step 5: write manifest.json into staging.
	if err := WriteManifest(filepath.Join(staging, "manifest.json"), m); err != nil {
		os.RemoveAll(staging)
		return protocol.NewError(protocol.KindInternal, fmt.Sprintf("write manifest: %v", err), nil)
	}

	// Step 6: atomic activate.
	if err := activate(staging, c.modelDir(m.ModelID)); err != nil {
		return protocol.NewError(protocol.KindInternal, fmt.Sprintf("activate model: %v", err), nil)
	}

	return nil
	// Step 7 (unlock) happens via the deferred lock.Unlock above.
}

// activate renames staging into place. Invariant I5 requires the
// previously-installed directory survive a failed rename; if target
// already exists (e.g. a reinstall of the same model_id), the
// existing directory is moved aside first and only removed once the
// new one is safely in place, restoring it if the rename still fails.
func activate(staging, target string) error {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return os.Rename(staging, target)
	}

	backup := target + ".bak"
	os.RemoveAll(backup)
	if err := os.Rename(target, backup); err != nil {
		return fmt.Errorf("move aside existing install: %w", err)
	}
	if err := os.Rename(staging, target); err != nil {
		// Restore the previous install; the upgrade failed but the
		// model directory must not be left missing or corrupted.
		os.Rename(backup, target)
		return fmt.Errorf("activate new install: %w", err)
	}
	os.RemoveAll(backup)
	return nil
}

// PurgeCache removes one model's directory, or every model directory
// if modelID is "". inUse reports whether a model is currently loaded
// by the ASR engine; a loaded model cannot be purged.
func (c *Cache) PurgeCache(modelID string, inUse func(modelID string) bool) error {
	lock, err := acquireLock(c.root, c.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if modelID != "" {
		if inUse != nil && inUse(modelID) {
			return protocol.NewError(protocol.KindModelInUse, fmt.Sprintf("model %s is currently loaded", modelID), nil)
		}
		return os.RemoveAll(c.modelDir(modelID))
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".partial" {
			continue
		}
		id := entry.Name()
		if inUse != nil && inUse(id) {
			return protocol.NewError(protocol.KindModelInUse, fmt.Sprintf("model %s is currently loaded", id), nil)
		}
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".partial" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
