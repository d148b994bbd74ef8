package asr

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// registry maps a model family name to a Backend constructor
// (asr/dispatch.py's _REGISTRY dict). Families register themselves
// from their own package's init(), so adding a backend never touches
// this file.
var (
	registryMu sync.Mutex
	registry   = map[string]func() Backend{}
)

// RegisterFamily registers a Backend constructor for family. Intended
// to be called from a family package's init().
func RegisterFamily(family string, ctor func() Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(strings.TrimSpace(family))] = ctor
}

// newBackend instantiates the backend registered for family, or an
// E_UNSUPPORTED_FAMILY error listing the known families.
func newBackend(family string) (Backend, error) {
	registryMu.Lock()
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(family))]
	known := knownFamiliesLocked()
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no backend registered for model family %q, known families: %s", family, strings.Join(known, ", "))
	}
	return ctor(), nil
}

func knownFamiliesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KnownFamilies returns the sorted list of registered family names.
func KnownFamilies() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return knownFamiliesLocked()
}
