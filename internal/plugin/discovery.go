// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DiscoveredPlugin pairs a manifest with the path it was loaded from.
type DiscoveredPlugin struct {
	Manifest     *Manifest
	ManifestPath string
}

// Dir returns the manifest's directory, which is also the plugin's working
// directory.
func (d DiscoveredPlugin) Dir() string {
	return filepath.Dir(d.ManifestPath)
}

// Discover finds plugin manifests under the given search roots.
//
// A root may be a directory, searched recursively for plugin.toml, or a
// direct path to a plugin.toml file. Roots that do not exist are skipped.
// Any manifest that fails to load fails the whole discovery, as does a
// plugin id that appears in more than one manifest. The result is sorted by
// plugin id.
func Discover(roots []string) ([]DiscoveredPlugin, error) {
	var paths []string
	for _, root := range roots {
		found, err := collectManifestPaths(root)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)

	seen := make(map[string]string, len(paths))
	discovered := make([]DiscoveredPlugin, 0, len(paths))
	for _, path := range paths {
		manifest, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}

		if previous, dup := seen[manifest.ID]; dup {
			return nil, fmt.Errorf("duplicate plugin id %q in manifests %s and %s", manifest.ID, previous, path)
		}
		seen[manifest.ID] = path

		discovered = append(discovered, DiscoveredPlugin{
			Manifest:     manifest,
			ManifestPath: path,
		})
	}

	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].Manifest.ID < discovered[j].Manifest.ID
	})
	return discovered, nil
}

func collectManifestPaths(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err //nolint:wrapcheck // wrapped by Discover with the root
	}

	if !info.IsDir() {
		if filepath.Base(root) == ManifestFileName {
			return []string{root}, nil
		}
		return nil, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && d.Name() == ManifestFileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Discover with the root
	}
	return paths, nil
}
