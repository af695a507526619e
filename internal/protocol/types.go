// Package protocol defines the JSON messages exchanged with executable
// plugins: one Request on stdin, one Response on stdout.
package protocol

import "encoding/json"

// Version is the protocol version spoken by the dispatcher.
const Version = 1

// Request is sent to an executable plugin on stdin.
type Request struct {
	Protocol int            `json:"protocol"`
	Group    string         `json:"group"`
	Name     string         `json:"name"`
	Job      map[string]any `json:"job"`      // FEA configuration table
	JobPath  string         `json:"job_path"` // job file path without extension
	Output   string         `json:"output"`   // container path, informational
}

// Response is read from an executable plugin's stdout.
type Response struct {
	Status     string            `json:"status"` // ok | error
	Error      string            `json:"error,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Datasets   []Dataset         `json:"datasets,omitempty"`
	Logs       []LogEntry        `json:"logs,omitempty"`
}

// Dataset is a dataset the plugin asks the dispatcher to store.
// Data is a JSON array for numeric and string dtypes, and a base64 string
// for uint8.
type Dataset struct {
	Name  string          `json:"name"`
	DType string          `json:"dtype"`
	Shape []int           `json:"shape,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // debug | info | warning | error
	Message string `json:"message"`
}

// OK reports whether the plugin completed the conversion.
func (r *Response) OK() bool {
	return r.Status == "ok"
}
