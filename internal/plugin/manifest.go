package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const manifestFilename = "manifest.yaml"

// Manifest describes an installed plugin distribution. A distribution may
// expose several entry points, possibly in other groups.
//
//	name: acme-preprocessor
//	version: 1.2.0
//	entry_points:
//	  - group: proface.preprocessor
//	    name: acme
//	    value: bin/acme-translate
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description,omitempty"`
	EntryPoints []EntryPoint `yaml:"entry_points"`
}

// EntryPoint binds a (group, name) key to an executable relative to the
// distribution directory.
type EntryPoint struct {
	Group string `yaml:"group"`
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// LogFunc receives discovery diagnostics.
type LogFunc func(level, msg string, args ...any)

// Discover scans plugin roots for manifest.yaml files and registers every
// entry point they declare. Roots are processed in input order. Manifests
// that fail to parse or validate are logged and skipped; a missing root is
// an error.
func (r *Registry) Discover(pluginRoots []string, logger LogFunc) error {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoots := make([]string, 0, len(pluginRoots))
	seenRoots := make(map[string]struct{}, len(pluginRoots))
	for _, root := range pluginRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("plugin root does not exist: %s", absRoot)
			}
			return fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}

	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			distDir := filepath.Dir(path)
			manifest, err := loadManifest(path)
			if err != nil {
				logger("warn", "failed to load plugin manifest", "root", root, "path", path, "error", err.Error())
				return nil
			}

			for _, ep := range manifest.EntryPoints {
				rec := Record{
					Group:        ep.Group,
					Name:         strings.ToLower(strings.TrimSpace(ep.Name)),
					Distribution: manifest.Name,
					Version:      manifest.Version,
					EntryPoint:   ep.Value,
					Source:       path,
				}
				entrypoint := filepath.Join(distDir, ep.Value)
				if err := r.Add(rec, execLoader(rec, entrypoint, distDir)); err != nil {
					logger("warn", "invalid entry point", "path", path, "error", err.Error())
					continue
				}
				logger("debug", "registered plugin", "group", ep.Group, "name", ep.Name,
					"distribution", manifest.Name, "version", manifest.Version, "path", path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	return nil
}

// loadManifest reads and validates a single manifest.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &manifest, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if len(m.EntryPoints) == 0 {
		return fmt.Errorf("at least one entry point must be declared")
	}

	for i, ep := range m.EntryPoints {
		if strings.TrimSpace(ep.Group) == "" {
			return fmt.Errorf("entry point %d: group is required", i)
		}
		if strings.TrimSpace(ep.Name) == "" {
			return fmt.Errorf("entry point %d: name is required", i)
		}
		if strings.TrimSpace(ep.Value) == "" {
			return fmt.Errorf("entry point %q: value is required", ep.Name)
		}
		if filepath.IsAbs(ep.Value) {
			return fmt.Errorf("entry point %q: value must be relative: %s", ep.Name, ep.Value)
		}
		// Check for path traversal in entrypoint
		if strings.Contains(ep.Value, "..") {
			return fmt.Errorf("entry point %q: value contains path traversal: %s", ep.Name, ep.Value)
		}
	}

	return nil
}

// validateTrust enforces that the entrypoint is an executable inside its
// distribution directory and that the directory is not world-writable.
func validateTrust(entrypointPath, distDir string) error {
	// Resolve symlinks
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedDistDir, err := filepath.EvalSymlinks(distDir)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	// Check entrypoint is under the distribution directory
	if !strings.HasPrefix(resolvedEntrypoint, resolvedDistDir+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedDistDir)
	}

	// Check entrypoint is executable
	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("entrypoint is a directory: %s", resolvedEntrypoint)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	// Check plugin directory is not world-writable
	distInfo, err := os.Stat(resolvedDistDir)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if distInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedDistDir)
	}

	return nil
}

// execLoader defers trust checks to load time so a broken installation is
// reported as a load failure of the selected plugin only.
func execLoader(rec Record, entrypoint, distDir string) LoadFunc {
	return func() (Translator, error) {
		if err := validateTrust(entrypoint, distDir); err != nil {
			return nil, err
		}
		return &ExecTranslator{Record: rec, Entrypoint: entrypoint}, nil
	}
}
