package job

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		checkFn func(t *testing.T, j *Job)
	}{
		{
			name: "valid job keeps key order",
			input: `fea_software = "Acme"
title = "bracket"

[Acme]
mesh = "part.msh"
`,
			checkFn: func(t *testing.T, j *Job) {
				assert.Equal(t, []string{"fea_software", "title", "Acme"}, j.Keys)
				assert.Equal(t, "Acme", j.Values["fea_software"])
			},
		},
		{
			name:    "malformed toml",
			input:   "fea_software = \n",
			wantErr: ErrJobDecode,
		},
		{
			name:    "duplicate key",
			input:   "a = 1\na = 2\n",
			wantErr: ErrJobDecode,
		},
		{
			name:    "invalid utf-8",
			input:   "fea_software = \"\xff\xfe\"\n",
			wantErr: ErrJobDecode,
		},
		{
			name:  "empty document",
			input: "",
			checkFn: func(t *testing.T, j *Job) {
				assert.Empty(t, j.Keys)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Parse("job.toml", []byte(tt.input))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, j)
			}
		})
	}
}

func TestParseReportsLine(t *testing.T) {
	_, err := Parse("job.toml", []byte("a = 1\nb = = 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		wantKey string
		wantMsg string
	}{
		{
			name:    "missing selector",
			input:   "[Acme]\nmesh = \"a\"\n",
			wantErr: ErrMissingSelector,
			wantKey: "fea_software",
			wantMsg: "missing 'fea_software' key",
		},
		{
			name:    "selector not a string",
			input:   "fea_software = 3\n",
			wantErr: ErrMissingSelector,
			wantKey: "fea_software",
		},
		{
			name:    "empty selector",
			input:   "fea_software = \"\"\n",
			wantErr: ErrMissingSelector,
			wantKey: "fea_software",
		},
		{
			name:    "missing table",
			input:   "fea_software = \"Acme\"\n",
			wantErr: ErrMissingConfigTable,
			wantKey: "Acme",
			wantMsg: "missing 'Acme' table",
		},
		{
			name:    "table lookup is case sensitive",
			input:   "fea_software = \"Acme\"\n[acme]\nmesh = \"a\"\n",
			wantErr: ErrMissingConfigTable,
			wantKey: "Acme",
		},
		{
			name:    "scalar instead of table",
			input:   "fea_software = \"Acme\"\nAcme = 5\n",
			wantErr: ErrInvalidConfigShape,
			wantKey: "Acme",
			wantMsg: "'Acme' is not a table",
		},
		{
			name:    "array instead of table",
			input:   "fea_software = \"Acme\"\nAcme = [1, 2]\n",
			wantErr: ErrInvalidConfigShape,
			wantKey: "Acme",
		},
		{
			name:  "valid",
			input: "fea_software = \"Acme\"\n[Acme]\nmesh = \"part.msh\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Parse("job.toml", []byte(tt.input))
			require.NoError(t, err)

			err = j.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "Acme", j.Selector)
				assert.Equal(t, "part.msh", j.Config["mesh"])
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var perr *PreambleError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.wantKey, perr.Key)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
			assert.Empty(t, j.Selector)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bracket.toml")
	require.NoError(t, os.WriteFile(path, []byte("fea_software = \"Acme\"\n[Acme]\n"), 0o644))

	j, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, j.Path)
	assert.Equal(t, filepath.Join(dir, "bracket"), j.PathContext())

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrJobDecode)
	assert.ErrorIs(t, err, ErrJobRead)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStripExt(t *testing.T) {
	tests := map[string]string{
		"job.toml":          "job",
		"/a/b/job.toml":     "/a/b/job",
		"/a/b.d/job":        "/a/b.d/job",
		"archive.tar.toml":  "archive.tar",
		".toml":             ".toml",
		"/a/.hidden":        "/a/.hidden",
		"relative/job.TOML": "relative/job",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripExt(in), in)
	}
}
