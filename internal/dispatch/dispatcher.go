package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/proface/preprocessor/internal/container"
	"github.com/proface/preprocessor/internal/envelope"
	"github.com/proface/preprocessor/internal/job"
	"github.com/proface/preprocessor/internal/log"
	"github.com/proface/preprocessor/internal/plugin"
)

// ErrPluginInternal marks a plugin failure that is not a declared
// conversion error.
var ErrPluginInternal = errors.New("plugin failed unexpectedly")

// State is a step of a run.
type State string

const (
	StateStart         State = "START"
	StateParsed        State = "PARSED"
	StateValidated     State = "VALIDATED"
	StateResolved      State = "RESOLVED"
	StateContainerOpen State = "CONTAINER_OPEN"
	StateInvoked       State = "INVOKED"
	StateSuccess       State = "SUCCESS"
	StateFailed        State = "FAILED"
)

// Resolver finds the plugins registered under a key.
type Resolver interface {
	Resolve(key plugin.Key) (plugin.Resolution, error)
}

// Result describes a run. It is returned on failure too, filled as far as
// the run got.
type Result struct {
	RunID      string
	JobPath    string
	OutputPath string // set once the container has been created
	Record     plugin.Record
	States     []State
}

// Failed reports whether the run ended in FAILED.
func (r *Result) Failed() bool {
	return len(r.States) > 0 && r.States[len(r.States)-1] == StateFailed
}

// Dispatcher runs jobs against a plugin registry.
type Dispatcher struct {
	resolver Resolver
	name     string
	version  string
	newRunID func() string
}

// New creates a Dispatcher. name and version identify the dispatcher in the
// metadata envelope.
func New(resolver Resolver, name, version string) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		name:     name,
		version:  version,
		newRunID: uuid.NewString,
	}
}

// run tracks the state of a single Run call.
type run struct {
	res    *Result
	logger *slog.Logger
}

func (r *run) enter(s State) {
	from := r.res.States[len(r.res.States)-1]
	r.res.States = append(r.res.States, s)
	r.logger.Debug("state transition", "from", string(from), "to", string(s))
}

func (r *run) fail(err error) error {
	r.enter(StateFailed)
	return err
}

// Run executes the job at jobPath. The container, if created, is closed
// before Run returns or panics.
func (d *Dispatcher) Run(ctx context.Context, jobPath string) (res *Result, err error) {
	r := &run{
		res: &Result{
			RunID:   d.newRunID(),
			JobPath: jobPath,
			States:  []State{StateStart},
		},
	}
	r.logger = log.WithRun(r.res.RunID).With(slog.String("component", "dispatch"))
	res = r.res

	j, err := job.Load(jobPath)
	if err != nil {
		return res, r.fail(err)
	}
	r.enter(StateParsed)

	if err := j.Validate(); err != nil {
		return res, r.fail(err)
	}
	r.enter(StateValidated)

	key := plugin.KeyFor(j.Selector)
	r.logger.Debug("searching plugin", "group", key.Group, "name", key.Name)
	resolution, err := d.resolver.Resolve(key)
	if err != nil {
		return res, r.fail(err)
	}
	entry := resolution.Entry()
	res.Record = entry.Record
	r.logger = r.logger.With(slog.String("plugin", entry.Record.Name))
	r.logger.Debug("found plugin", "distribution", entry.Record.Distribution,
		"version", entry.Record.Version, "entry_point", entry.Record.EntryPoint, "source", entry.Record.Source)

	translator, err := entry.Load()
	if err != nil {
		return res, r.fail(err)
	}
	r.enter(StateResolved)

	meta, err := envelope.Build(d.name, d.version, entry.Record).Encode()
	if err != nil {
		return res, r.fail(fmt.Errorf("%w: %w", ErrPluginInternal, err))
	}
	r.logger.Debug("metadata", "envelope", string(meta))

	outPath := container.OutputPath(j.Path)
	r.logger.Debug("opening container", "path", outPath)
	if fsType, remote, err := container.NetworkFilesystem(outPath); err != nil {
		r.logger.Debug("filesystem check skipped", "error", err)
	} else if remote {
		r.logger.Warn("container is on a network filesystem; SQLite locking may be unreliable",
			"path", outPath, "filesystem", fsType)
	}
	c, err := container.Create(ctx, outPath)
	if err != nil {
		return res, r.fail(err)
	}
	res.OutputPath = outPath
	r.enter(StateContainerOpen)

	// Guard for failure and panic paths; success closes explicitly below.
	defer func() {
		if c.Closed() {
			return
		}
		if cerr := c.Close(); cerr != nil {
			r.logger.Error("failed to close container", "path", outPath, "error", cerr)
		}
	}()

	if err := c.WriteMeta(meta); err != nil {
		return res, r.fail(err)
	}

	r.enter(StateInvoked)
	r.logger.Debug("running plugin", "job", j.Path, "fea_software", j.Selector)
	if err := translator.Translate(ctx, j.Config, j.PathContext(), c); err != nil {
		if errors.Is(err, plugin.ErrConversion) {
			r.logger.Warn("conversion failed", "error", err)
			return res, r.fail(err)
		}
		return res, r.fail(fmt.Errorf("%w: %s (%s %s): %w", ErrPluginInternal,
			entry.Record.Name, entry.Record.Distribution, entry.Record.Version, err))
	}

	if err := c.Close(); err != nil {
		return res, r.fail(err)
	}
	r.enter(StateSuccess)
	r.logger.Debug("conversion complete", "output", outPath)
	return res, nil
}
