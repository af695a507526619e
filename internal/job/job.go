// Package job decodes TOML job descriptions and validates their preamble.
//
// A job file names the FEA software through the top-level "fea_software" key
// and carries that software's configuration in a table with the same name:
//
//	fea_software = "Acme"
//
//	[Acme]
//	mesh = "part.msh"
//
// Decoding and validation are separate steps so callers can report decode
// failures and preamble violations with distinct errors.
package job

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// SelectorKey is the top-level key naming the FEA software.
const SelectorKey = "fea_software"

var (
	ErrJobRead            = errors.New("cannot read job file")
	ErrJobDecode          = errors.New("job decode failed")
	ErrMissingSelector    = errors.New("missing selector key")
	ErrMissingConfigTable = errors.New("missing configuration table")
	ErrInvalidConfigShape = errors.New("configuration is not a table")
)

// PreambleError reports a preamble violation together with the offending key.
type PreambleError struct {
	Key string
	Err error
}

func (e *PreambleError) Error() string {
	switch e.Err {
	case ErrMissingSelector:
		return fmt.Sprintf("missing '%s' key", e.Key)
	case ErrMissingConfigTable:
		return fmt.Sprintf("missing '%s' table", e.Key)
	case ErrInvalidConfigShape:
		return fmt.Sprintf("'%s' is not a table", e.Key)
	default:
		return fmt.Sprintf("'%s': %v", e.Key, e.Err)
	}
}

func (e *PreambleError) Unwrap() error { return e.Err }

// Job is a decoded job description. It is read-only once parsed.
type Job struct {
	Path   string         // job file path as given
	Keys   []string       // top-level keys in file order
	Values map[string]any // decoded top-level table

	// Set by Validate.
	Selector string
	Config   map[string]any
}

// Load reads and decodes the job file at path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobRead, err)
	}
	return Parse(path, data)
}

// Parse decodes TOML job data. path is only recorded on the result.
func Parse(path string, data []byte) (*Job, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8 encoding", ErrJobDecode)
	}

	values := make(map[string]any)
	md, err := toml.Decode(string(data), &values)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: line %d: %s", ErrJobDecode, perr.Position.Line, perr.Message)
		}
		return nil, fmt.Errorf("%w: %v", ErrJobDecode, err)
	}

	keys := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, k := range md.Keys() {
		if len(k) == 0 {
			continue
		}
		top := k[0]
		if _, ok := seen[top]; ok {
			continue
		}
		seen[top] = struct{}{}
		keys = append(keys, top)
	}

	return &Job{Path: path, Keys: keys, Values: values}, nil
}

// Validate checks the preamble: the selector key must hold a non-empty string
// and a table named after it must exist. The first violation is returned.
// On success Selector and Config are populated.
func (j *Job) Validate() error {
	raw, ok := j.Values[SelectorKey]
	if !ok {
		return &PreambleError{Key: SelectorKey, Err: ErrMissingSelector}
	}
	selector, ok := raw.(string)
	if !ok || strings.TrimSpace(selector) == "" {
		return &PreambleError{
			Key: SelectorKey,
			Err: fmt.Errorf("%w: expected a non-empty string, got %s", ErrMissingSelector, describe(raw)),
		}
	}

	cfg, ok := j.Values[selector]
	if !ok {
		return &PreambleError{Key: selector, Err: ErrMissingConfigTable}
	}
	table, ok := cfg.(map[string]any)
	if !ok {
		return &PreambleError{Key: selector, Err: ErrInvalidConfigShape}
	}

	j.Selector = selector
	j.Config = table
	return nil
}

// PathContext is the job path with its extension stripped. Plugins use it to
// locate sibling input files.
func (j *Job) PathContext() string {
	return StripExt(j.Path)
}

// StripExt removes the final extension from a path, if any.
func StripExt(path string) string {
	for i := len(path) - 1; i >= 0 && !os.IsPathSeparator(path[i]); i-- {
		if path[i] == '.' {
			if i == 0 || os.IsPathSeparator(path[i-1]) {
				return path
			}
			return path[:i]
		}
	}
	return path
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "empty string"
	case map[string]any:
		return "table"
	case []any, []map[string]any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
