// Command echo-exec is the out-of-process counterpart of the echo plugin. It
// is installed with manifest.yaml under a plugin root and talks to the
// dispatcher over stdin/stdout.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/proface/preprocessor/internal/protocol"
)

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(r io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol version %d", req.Protocol))
	}

	if msg, ok := req.Job["fail"].(string); ok {
		return errResp(msg)
	}

	encoded, err := json.Marshal(req.Job)
	if err != nil {
		return errResp(fmt.Sprintf("job table cannot be encoded: %v", err))
	}

	keys := make([]string, 0, len(req.Job))
	for k := range req.Job {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	keysJSON, _ := json.Marshal(keys)

	return protocol.Response{
		Status: "ok",
		Attributes: map[string]string{
			"echo/job":      string(encoded),
			"echo/job_path": req.JobPath,
		},
		Datasets: []protocol.Dataset{{
			Name:  "echo/keys",
			DType: "string",
			Shape: []int{len(keys)},
			Data:  keysJSON,
		}},
		Logs: []protocol.LogEntry{{
			Level:   "debug",
			Message: fmt.Sprintf("echoed %d keys for %s", len(keys), req.Name),
		}},
	}
}

func errResp(msg string) protocol.Response {
	return protocol.Response{Status: "error", Error: msg}
}
