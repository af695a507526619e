package config

// Config is the optional dispatcher configuration.
//
//	log_level: info
//	log_format: text
//	plugin_roots:
//	  - /opt/proface/plugins
//	  - ${HOME}/.local/share/proface/plugins
type Config struct {
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	PluginRoots []string `yaml:"plugin_roots"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `yaml:"-"`
}

// Overrides carries command-line values. Empty fields leave the
// configuration unchanged; PluginDirs are appended.
type Overrides struct {
	LogLevel   string
	LogFormat  string
	PluginDirs []string
}

// Defaults returns the configuration used when no file is found.
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
	}
}
