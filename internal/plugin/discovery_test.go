package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDistribution(t *testing.T, root, dir, manifest string, scripts map[string]string) string {
	t.Helper()
	distDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(distDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(distDir, manifestFilename), []byte(manifest), 0o644))
	for rel, body := range scripts {
		p := filepath.Join(distDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	}
	return distDir
}

const acmeManifest = `name: acme-preprocessor
version: 1.2.0
description: ACME solver deck writer
entry_points:
  - group: proface.preprocessor
    name: ACME
    value: bin/acme
`

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string // Returns plugin root
		wantCount int
		wantErr   bool
		checkFn   func(t *testing.T, reg *Registry)
	}{
		{
			name: "valid distribution discovered",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				writeDistribution(t, root, "acme", acmeManifest, map[string]string{"bin/acme": "#!/bin/sh\n"})
				return root
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				res, err := reg.Resolve(KeyFor("acme"))
				require.NoError(t, err)
				rec := res.Entry().Record
				assert.Equal(t, "acme", rec.Name)
				assert.Equal(t, "acme-preprocessor", rec.Distribution)
				assert.Equal(t, "1.2.0", rec.Version)
				assert.Equal(t, "bin/acme", rec.EntryPoint)
				assert.Equal(t, "manifest.yaml", filepath.Base(rec.Source))
			},
		},
		{
			name: "nested distributions discovered",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				for _, name := range []string{"alpha", "beta"} {
					manifest := "name: " + name + "-dist\nversion: 0.1.0\nentry_points:\n" +
						"  - {group: proface.preprocessor, name: " + name + ", value: run.sh}\n"
					writeDistribution(t, root, filepath.Join("vendor", name), manifest, map[string]string{"run.sh": "#!/bin/sh\n"})
				}
				return root
			},
			wantCount: 2,
		},
		{
			name: "other groups registered but not listed",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				manifest := "name: tools\nversion: 1.0.0\nentry_points:\n" +
					"  - {group: proface.postprocessor, name: acme, value: run.sh}\n"
				writeDistribution(t, root, "tools", manifest, map[string]string{"run.sh": "#!/bin/sh\n"})
				return root
			},
			wantCount: 0,
			checkFn: func(t *testing.T, reg *Registry) {
				assert.Len(t, reg.Records("proface.postprocessor"), 1)
			},
		},
		{
			name: "directory without manifest skipped",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))
				return root
			},
			wantCount: 0,
		},
		{
			name: "malformed manifest skipped",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				writeDistribution(t, root, "broken", "name: [unterminated\n", nil)
				writeDistribution(t, root, "acme", acmeManifest, map[string]string{"bin/acme": "#!/bin/sh\n"})
				return root
			},
			wantCount: 1,
		},
		{
			name: "non-executable entrypoint registered and fails at load",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				dist := writeDistribution(t, root, "acme", acmeManifest, nil)
				require.NoError(t, os.MkdirAll(filepath.Join(dist, "bin"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(dist, "bin", "acme"), []byte("#!/bin/sh\n"), 0o644))
				return root
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				res, err := reg.Resolve(KeyFor("acme"))
				require.NoError(t, err)
				_, err = res.Entry().Load()
				assert.ErrorIs(t, err, ErrPluginLoad)
				assert.Contains(t, err.Error(), "cannot load plugin 'bin/acme'")
				assert.Contains(t, err.Error(), "not executable")
			},
		},
		{
			name: "duplicate names kept for ambiguity",
			setupFn: func(t *testing.T) string {
				root := t.TempDir()
				writeDistribution(t, root, "one", acmeManifest, map[string]string{"bin/acme": "#!/bin/sh\n"})
				other := "name: acme-community\nversion: 0.9.0\nentry_points:\n" +
					"  - {group: proface.preprocessor, name: acme, value: acme.sh}\n"
				writeDistribution(t, root, "two", other, map[string]string{"acme.sh": "#!/bin/sh\n"})
				return root
			},
			wantCount: 2,
			checkFn: func(t *testing.T, reg *Registry) {
				res, err := reg.Resolve(KeyFor("acme"))
				assert.ErrorIs(t, err, ErrPluginAmbiguous)
				assert.Equal(t, Ambiguous, res.Status)
				assert.Contains(t, err.Error(), "acme-preprocessor")
				assert.Contains(t, err.Error(), "acme-community")
			},
		},
		{
			name: "missing root is an error",
			setupFn: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.setupFn(t)
			reg := NewRegistry()
			err := reg.Discover([]string{root}, nil)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, reg.Records(Group), tt.wantCount)
			if tt.checkFn != nil {
				tt.checkFn(t, reg)
			}
		})
	}
}

func TestDiscoverLogsSkippedManifest(t *testing.T) {
	root := t.TempDir()
	writeDistribution(t, root, "broken", "version: 1.0.0\n", nil)

	var warnings []string
	logger := func(level, msg string, args ...any) {
		if level == "warn" {
			warnings = append(warnings, msg)
		}
	}

	require.NoError(t, NewRegistry().Discover([]string{root}, logger))
	assert.Equal(t, []string{"failed to load plugin manifest"}, warnings)
}

func TestDiscoverDeduplicatesRoots(t *testing.T) {
	root := t.TempDir()
	writeDistribution(t, root, "acme", acmeManifest, map[string]string{"bin/acme": "#!/bin/sh\n"})

	reg := NewRegistry()
	require.NoError(t, reg.Discover([]string{root, root + string(os.PathSeparator), " "}, nil))

	_, err := reg.Resolve(KeyFor("acme"))
	assert.NoError(t, err)
}

func TestValidateManifest(t *testing.T) {
	ep := EntryPoint{Group: Group, Name: "acme", Value: "bin/acme"}
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  string
	}{
		{
			name:     "valid manifest",
			manifest: Manifest{Name: "acme", Version: "1.0.0", EntryPoints: []EntryPoint{ep}},
		},
		{
			name:     "missing name",
			manifest: Manifest{Version: "1.0.0", EntryPoints: []EntryPoint{ep}},
			wantErr:  "name is required",
		},
		{
			name:     "missing version",
			manifest: Manifest{Name: "acme", EntryPoints: []EntryPoint{ep}},
			wantErr:  "version is required",
		},
		{
			name:     "no entry points",
			manifest: Manifest{Name: "acme", Version: "1.0.0"},
			wantErr:  "at least one entry point",
		},
		{
			name: "entry point without group",
			manifest: Manifest{Name: "acme", Version: "1.0.0", EntryPoints: []EntryPoint{
				{Name: "acme", Value: "run.sh"},
			}},
			wantErr: "group is required",
		},
		{
			name: "entry point without value",
			manifest: Manifest{Name: "acme", Version: "1.0.0", EntryPoints: []EntryPoint{
				{Group: Group, Name: "acme"},
			}},
			wantErr: "value is required",
		},
		{
			name: "absolute value",
			manifest: Manifest{Name: "acme", Version: "1.0.0", EntryPoints: []EntryPoint{
				{Group: Group, Name: "acme", Value: "/usr/bin/acme"},
			}},
			wantErr: "must be relative",
		},
		{
			name: "path traversal",
			manifest: Manifest{Name: "acme", Version: "1.0.0", EntryPoints: []EntryPoint{
				{Group: Group, Name: "acme", Value: "../evil.sh"},
			}},
			wantErr: "path traversal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateManifest(&tt.manifest)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTrust(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(t *testing.T) (entrypoint, distDir string)
		wantErr string
	}{
		{
			name: "valid executable",
			setupFn: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				ep := filepath.Join(dir, "run.sh")
				require.NoError(t, os.WriteFile(ep, []byte("#!/bin/sh\n"), 0o755))
				return ep, dir
			},
		},
		{
			name: "missing entrypoint",
			setupFn: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				return filepath.Join(dir, "run.sh"), dir
			},
			wantErr: "failed to resolve entrypoint symlink",
		},
		{
			name: "symlink escaping distribution",
			setupFn: func(t *testing.T) (string, string) {
				outside := t.TempDir()
				target := filepath.Join(outside, "evil.sh")
				require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))
				dir := t.TempDir()
				ep := filepath.Join(dir, "run.sh")
				require.NoError(t, os.Symlink(target, ep))
				return ep, dir
			},
			wantErr: "is not under plugin directory",
		},
		{
			name: "entrypoint is a directory",
			setupFn: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				ep := filepath.Join(dir, "bin")
				require.NoError(t, os.Mkdir(ep, 0o755))
				return ep, dir
			},
			wantErr: "is a directory",
		},
		{
			name: "world-writable distribution",
			setupFn: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				ep := filepath.Join(dir, "run.sh")
				require.NoError(t, os.WriteFile(ep, []byte("#!/bin/sh\n"), 0o755))
				require.NoError(t, os.Chmod(dir, 0o777))
				return ep, dir
			},
			wantErr: "world-writable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, dir := tt.setupFn(t)
			err := validateTrust(ep, dir)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
