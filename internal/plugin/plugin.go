package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/proface/preprocessor/internal/container"
)

// Group is the registry group preprocessor plugins register under.
const Group = "proface.preprocessor"

var (
	ErrPluginNotFound  = errors.New("plugin not installed")
	ErrPluginAmbiguous = errors.New("more than one plugin registered")
	ErrPluginLoad      = errors.New("plugin failed to load")
	ErrConversion      = errors.New("conversion failed")
)

// Key identifies a plugin in the registry.
type Key struct {
	Group string
	Name  string
}

// KeyFor returns the registry key for an FEA selector. Names are matched
// lower-cased.
func KeyFor(selector string) Key {
	return Key{Group: Group, Name: strings.ToLower(selector)}
}

func (k Key) String() string { return k.Group + ":" + k.Name }

// Record describes where a plugin comes from.
type Record struct {
	Group        string
	Name         string
	Distribution string // distribution (package) name
	Version      string // distribution version
	EntryPoint   string // import target or executable path
	Source       string // "builtin" or the manifest path
}

// Key returns the registry key of the record.
func (r Record) Key() Key {
	return Key{Group: r.Group, Name: r.Name}
}

func (r Record) String() string {
	return fmt.Sprintf("%s = %s (%s %s)", r.Name, r.EntryPoint, r.Distribution, r.Version)
}

//go:generate mockgen -destination=mocks/mock_translator.go -package=mocks github.com/proface/preprocessor/internal/plugin Translator

// Translator converts one job into the open output container.
//
// job is the FEA configuration table, jobPath the job file path without its
// extension. The container is lent for the duration of the call and must not
// be retained. Expected conversion failures are reported with an error that
// matches ErrConversion (see Conversionf); any other error is treated as a
// defect in the plugin.
type Translator interface {
	Translate(ctx context.Context, job map[string]any, jobPath string, out container.Writer) error
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, job map[string]any, jobPath string, out container.Writer) error

func (f TranslatorFunc) Translate(ctx context.Context, job map[string]any, jobPath string, out container.Writer) error {
	return f(ctx, job, jobPath, out)
}

// LoadFunc produces a Translator for a registered record.
type LoadFunc func() (Translator, error)

// ConversionError is the declared failure of a conversion, such as malformed
// input geometry.
type ConversionError struct {
	Msg string
	Err error
}

// Conversionf builds a ConversionError. %w verbs are honored.
func Conversionf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &ConversionError{Msg: err.Error(), Err: err}
}

func (e *ConversionError) Error() string { return e.Msg }

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// LoadError reports a registered entry point that could not be loaded.
type LoadError struct {
	Target string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load plugin '%s': %v", e.Target, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrPluginLoad }
