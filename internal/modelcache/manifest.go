// Package modelcache implements the on-disk ASR model cache: manifest
// loading, atomic download with mirror fallback and Range resume,
// SHA-256 verification, and purge (§4.9). The install lifecycle's
// seven steps (lock, preflight, download, verify, write manifest,
// atomic activate, unlock) are each their own function so the order is
// visible in a diff, the same discipline audiopipe's seven steps use.
package modelcache

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openvoicy/sidecar/internal/contracts"
)

// ModelFamily enumerates the supported ASR backend families (§4.10).
type ModelFamily string

const (
	FamilyParakeet ModelFamily = "parakeet"
	FamilyWhisper  ModelFamily = "whisper"
)

// ManifestFile describes one file belonging to a model.
type ManifestFile struct {
	Path       string   `json:"path"`
	SizeBytes  int64    `json:"size_bytes"`
	SHA256     string   `json:"sha256"`
	PrimaryURL string   `json:"primary_url"`
	MirrorURLs []string `json:"mirror_urls,omitempty"`
}

// URLs returns the file's download candidates in attempt order:
// primary first, then each mirror.
func (f ManifestFile) URLs() []string {
	return append([]string{f.PrimaryURL}, f.MirrorURLs...)
}

// Manifest is one installable model (§3's model manifest type).
type Manifest struct {
	ModelID        string         `json:"model_id"`
	ModelFamily    ModelFamily    `json:"model_family"`
	Revision       string         `json:"revision"`
	Source         string         `json:"source"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	Files          []ManifestFile `json:"files"`
	License        string         `json:"license,omitempty"`
	Verification   string         `json:"verification,omitempty"`
}

// LoadManifest reads and validates a manifest.json file. Validation
// against the registered "model.manifest" schema happens before the
// Go struct is trusted, so a malformed manifest fails loudly instead
// of silently installing a truncated or miskeyed model.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := contracts.Validate("model.manifest", generic); err != nil {
		return nil, fmt.Errorf("manifest %s failed schema validation: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest serializes m to path, used when staging an install's
// manifest.json before atomic activation.
func WriteManifest(path string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
