// Package echo is a reference preprocessor plugin linked into the
// dispatcher binary. It performs no FEA conversion: it records the job it
// was given, which makes it useful for smoke-testing installations.
//
//	fea_software = "echo"
//
//	[echo]
//	title = "bracket"
//	fail = "optional message; makes the conversion fail"
package echo

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/proface/preprocessor/internal/container"
	"github.com/proface/preprocessor/internal/plugin"
)

const (
	Name         = "echo"
	Distribution = "proface-preprocessor-echo"
	Version      = "1.0.0"
	EntryPoint   = "github.com/proface/preprocessor/plugins/echo.Translate"
)

func init() {
	plugin.Register(plugin.Record{
		Group:        plugin.Group,
		Name:         Name,
		Distribution: Distribution,
		Version:      Version,
		EntryPoint:   EntryPoint,
	}, func() (plugin.Translator, error) {
		return plugin.TranslatorFunc(Translate), nil
	})
}

// Translate stores the job table as the "echo/job" attribute, the job path as
// "echo/job_path", and the sorted table keys as the "echo/keys" dataset.
// A string "fail" entry is reported as a conversion failure after the
// attributes are written.
func Translate(_ context.Context, job map[string]any, jobPath string, out container.Writer) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return plugin.Conversionf("job table cannot be encoded: %w", err)
	}
	if err := out.SetAttr("echo/job", encoded); err != nil {
		return err
	}
	if err := out.SetAttr("echo/job_path", []byte(jobPath)); err != nil {
		return err
	}

	if msg, ok := job["fail"].(string); ok {
		return plugin.Conversionf("%s", msg)
	}

	keys := make([]string, 0, len(job))
	for k := range job {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out.CreateDataset("echo/keys", container.NewString(nil, keys))
}
