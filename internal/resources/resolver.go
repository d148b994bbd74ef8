// Package resources locates bundled resources (presets, model manifests,
// contracts) across dev and packaged layouts, mirroring the search order
// of the original sidecar's resource resolver.
package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Well-known relative keys under shared/ (§4.11).
const (
	PresetsRel           = "replacements/PRESETS.json"
	ModelManifestRel     = "model/MODEL_MANIFEST.json"
	ModelCatalogRel      = "model/MODEL_CATALOG.json"
	ContractsDirRel      = "contracts"
	ModelManifestsDirRel = "model/manifests"

	sharedRootEnv = "OPENVOICY_SHARED_ROOT"
)

// Resolver finds files under a shared/ tree across dev and packaged
// layouts. devRoot is the directory three ancestors above this module's
// resource-resolution code in the original Python layout; callers pass
// the equivalent for this binary (normally the directory containing the
// running executable's source tree, or "" to skip that candidate).
type Resolver struct {
	devRoot string
}

// NewResolver builds a Resolver. devRoot mirrors the Python resolver's
// "three ancestors up from this file" dev-mode candidate; pass "" if the
// binary has no known dev-repo location (e.g. when fully packaged).
func NewResolver(devRoot string) *Resolver {
	return &Resolver{devRoot: devRoot}
}

// Candidates returns the ordered list of candidate roots for "shared/",
// highest priority first, matching §4.11's six-step search order.
func (r *Resolver) Candidates() []string {
	var roots []string

	// 1. Explicit override via environment variable.
	if envRoot := os.Getenv(sharedRootEnv); envRoot != "" {
		if expanded, err := expandHome(envRoot); err == nil {
			roots = append(roots, expanded)
		} else {
			roots = append(roots, envRoot)
		}
	}

	// 2. Runtime-bundle extraction dir, if this build was frozen/bundled
	// (no Go equivalent of PyInstaller's sys._MEIPASS; a packaged build
	// sets this via a build-time env var baked into the installer).
	if bundleDir := os.Getenv("OPENVOICY_BUNDLE_DIR"); bundleDir != "" {
		roots = append(roots, filepath.Join(bundleDir, "shared"))
	}

	// 3. Dev-mode repository layout.
	if r.devRoot != "" {
		roots = append(roots, filepath.Join(r.devRoot, "shared"))
	}

	// 4. Executable-relative directory (Tauri bundles the sidecar next
	// to its resources).
	exeDir := executableDir()
	if exeDir != "" {
		roots = append(roots, filepath.Join(exeDir, "shared"))

		// 5. macOS app-bundle Resources directory.
		if runtime.GOOS == "darwin" {
			roots = append(roots, filepath.Join(filepath.Dir(exeDir), "Resources", "shared"))
		}
	}

	// 6. Working-directory fallback.
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, filepath.Join(cwd, "shared"))
	}

	return roots
}

// Resolve returns the first existing path for relative under shared/,
// or a diagnostic error listing every path tried.
func (r *Resolver) Resolve(relative string) (string, error) {
	var tried []string
	for _, root := range r.Candidates() {
		candidate := filepath.Join(root, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		tried = append(tried, candidate)
	}
	msg := fmt.Sprintf("shared resource %q not found. Searched:", relative)
	for _, p := range tried {
		msg += "\n  - " + p
	}
	return "", fmt.Errorf("%s", msg)
}

// ResolveOptional is like Resolve but returns "" instead of an error on
// a miss.
func (r *Resolver) ResolveOptional(relative string) string {
	path, err := r.Resolve(relative)
	if err != nil {
		return ""
	}
	return path
}

// ListCandidates returns every candidate path for relative, whether or
// not it exists — used for self-test diagnostics.
func (r *Resolver) ListCandidates(relative string) []string {
	roots := r.Candidates()
	out := make([]string, len(roots))
	for i, root := range roots {
		out[i] = filepath.Join(root, relative)
	}
	return out
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		resolved = exe
	}
	return filepath.Dir(resolved)
}

func expandHome(p string) (string, error) {
	if len(p) == 0 || p[0] != '~' {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p, err
	}
	return filepath.Join(home, p[1:]), nil
}
