package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/proface/preprocessor/internal/container"
	"github.com/proface/preprocessor/internal/log"
	"github.com/proface/preprocessor/internal/protocol"
)

// maxStderrBytes caps the amount of stderr captured from plugin execution.
const maxStderrBytes = 64 * 1024

// ExecTranslator runs an installed executable that speaks the JSON protocol.
// The executable never sees the container: the datasets and attributes it
// returns are written by the translator into the lent Writer.
type ExecTranslator struct {
	Record     Record
	Entrypoint string
}

// Translate spawns the executable, sends the job and applies the response.
func (t *ExecTranslator) Translate(ctx context.Context, job map[string]any, jobPath string, out container.Writer) error {
	logger := log.WithPlugin(t.Record.Name)

	req := &protocol.Request{
		Protocol: protocol.Version,
		Group:    t.Record.Group,
		Name:     t.Record.Name,
		Job:      job,
		JobPath:  jobPath,
		Output:   out.Path(),
	}

	resp, err := t.spawn(ctx, req, logger)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", t.Record.Name, err)
	}

	replayLogs(logger, resp.Logs)

	if !resp.OK() {
		return &ConversionError{Msg: resp.Error}
	}
	return apply(resp, out)
}

// spawn runs the entrypoint, writes the request to stdin and reads the
// response from stdout. No timeout is enforced.
func (t *ExecTranslator) spawn(ctx context.Context, req *protocol.Request, logger *slog.Logger) (*protocol.Response, error) {
	// Plugins are never cancelled by the dispatcher; ctx only carries values.
	cmd := exec.Command(t.Entrypoint)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	logger.DebugContext(ctx, "spawning plugin", "entrypoint", t.Entrypoint)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := cmd.Wait()
	if stderrStr := stderr.String(); stderrStr != "" {
		logger.Debug("plugin stderr", "stderr", stderrStr, "truncated", stderr.truncated)
	}

	if werr := <-writeErr; werr != nil {
		return nil, werr
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait for process: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	resp, rawBytes, err := protocol.DecodeResponse(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes), "exit_code", exitCode)
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if exitCode != 0 {
		logger.Warn("plugin exited with non-zero status", "exit_code", exitCode, "status", resp.Status)
	}
	return resp, nil
}

// apply writes the response payload into the container. Attributes are
// written in name order so repeated runs produce the same container.
func apply(resp *protocol.Response, out container.Writer) error {
	names := make([]string, 0, len(resp.Attributes))
	for name := range resp.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := out.SetAttr(name, []byte(resp.Attributes[name])); err != nil {
			return fmt.Errorf("set attribute %q: %w", name, err)
		}
	}

	for _, pds := range resp.Datasets {
		ds, err := convertDataset(pds)
		if err != nil {
			return err
		}
		if err := out.CreateDataset(pds.Name, ds); err != nil {
			return fmt.Errorf("create dataset %q: %w", pds.Name, err)
		}
	}
	return nil
}

// convertDataset decodes the JSON payload of a protocol dataset.
func convertDataset(pds protocol.Dataset) (container.Dataset, error) {
	var (
		ds  container.Dataset
		err error
	)
	switch container.DType(pds.DType) {
	case container.Float64:
		var v []float64
		err = json.Unmarshal(pds.Data, &v)
		ds = container.NewFloat64(pds.Shape, v)
	case container.Int64:
		var v []int64
		err = json.Unmarshal(pds.Data, &v)
		ds = container.NewInt64(pds.Shape, v)
	case container.Uint8:
		// base64 string
		var v []byte
		err = json.Unmarshal(pds.Data, &v)
		ds = container.NewUint8(pds.Shape, v)
	case container.String:
		var v []string
		err = json.Unmarshal(pds.Data, &v)
		ds = container.NewString(pds.Shape, v)
	default:
		return container.Dataset{}, fmt.Errorf("dataset %q: unknown dtype %q", pds.Name, pds.DType)
	}
	if err != nil {
		return container.Dataset{}, fmt.Errorf("dataset %q: invalid %s data: %w", pds.Name, pds.DType, err)
	}
	return ds, nil
}

// replayLogs forwards plugin log entries through the dispatcher logger.
func replayLogs(logger *slog.Logger, entries []protocol.LogEntry) {
	for _, e := range entries {
		var level slog.Level
		switch strings.ToLower(e.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
		logger.Log(context.Background(), level, e.Message, "source", "plugin")
	}
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest. Writes never fail, so a chatty plugin is not killed by a broken pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
