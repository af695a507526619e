package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/proface/preprocessor/internal/log"
)

const (
	// EnvConfig names an explicit configuration file.
	EnvConfig = "PROFACE_CONFIG"
	// EnvPluginPath lists extra plugin roots, separated like PATH.
	EnvPluginPath = "PROFACE_PLUGIN_PATH"
)

// ErrConfig marks configuration errors.
var ErrConfig = errors.New("invalid configuration")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and validates a configuration file. Relative plugin roots are
// resolved against the directory of the file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve config path %q: %v", ErrConfig, configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: config file not found: %s", ErrConfig, absPath)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, absPath, err)
	}
	cfg.Source = absPath

	baseDir := filepath.Dir(absPath)
	for i, root := range cfg.PluginRoots {
		root = interpolateEnv(root)
		if root != "" && !filepath.IsAbs(root) && !envVarPattern.MatchString(root) {
			root = filepath.Join(baseDir, root)
		}
		cfg.PluginRoots[i] = root
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover finds the configuration file. Priority order: explicit path,
// $PROFACE_CONFIG, $XDG_CONFIG_HOME/proface/preprocessor.yaml. The explicit
// and environment paths must exist when loaded; the XDG file is optional.
// An empty result means no file applies.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}

	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	path := filepath.Join(dir, "proface", "preprocessor.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Resolve produces the effective configuration: the discovered file (or
// defaults), then $PROFACE_PLUGIN_PATH roots, then command-line overrides.
func Resolve(explicit string, o Overrides) (*Config, error) {
	cfg := Defaults()
	if path := Discover(explicit); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	for _, root := range filepath.SplitList(os.Getenv(EnvPluginPath)) {
		if root = strings.TrimSpace(root); root != "" {
			cfg.PluginRoots = append(cfg.PluginRoots, root)
		}
	}

	cfg.Apply(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply merges command-line overrides into the configuration.
func (c *Config) Apply(o Overrides) {
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
	c.PluginRoots = append(c.PluginRoots, o.PluginDirs...)
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level must be one of: %s (got %q)",
			ErrConfig, strings.Join(log.LevelNames(), ", "), c.LogLevel)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be one of: text, json (got %q)", ErrConfig, c.LogFormat)
	}

	for i, root := range c.PluginRoots {
		if matches := envVarPattern.FindStringSubmatch(root); len(matches) > 1 {
			return fmt.Errorf("%w: plugin_roots[%d]: environment variable ${%s} is not set", ErrConfig, i, matches[1])
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation)
		return match
	})
}
