package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/proface/preprocessor/internal/config"
	"github.com/proface/preprocessor/internal/container"
	"github.com/proface/preprocessor/internal/dispatch"
	"github.com/proface/preprocessor/internal/job"
	"github.com/proface/preprocessor/internal/log"
	"github.com/proface/preprocessor/internal/plugin"

	_ "github.com/proface/preprocessor/plugins/echo"
)

const (
	appName = "proface-preprocessor"
	version = "0.3.0"
)

// Exit codes.
const (
	exitOK         = 0
	exitConversion = 1
	exitPlugin     = 2
	exitUsage      = 3
	exitIO         = 4
	exitInternal   = 70
)

// usageError marks bad flags or arguments.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type options struct {
	logLevel    string
	logFormat   string
	configPath  string
	pluginDirs  []string
	showVersion bool
}

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

// runCLI runs the command line and returns the process exit code.
func runCLI(args []string) int {
	stdout, stderr := os.Stdout, os.Stderr
	cmd := newRootCmd(stdout, stderr)
	// cobra falls back to os.Args when given nil.
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		printDiagnostic(stderr, err)
		return exitCodeFor(err)
	}
	return exitOK
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName + " [flags] JOB.TOML",
		Short: "Convert an FEA job into a ProFACE container using the matching plugin",
		Long: `Reads JOB.TOML, selects the preprocessor plugin named by its 'fea_software'
key, and writes the plugin output to JOB.h5db next to the job file.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			if len(args) != 1 {
				return usageErrorf("expected exactly one JOB.TOML argument, got %d", len(args))
			}
			info, err := os.Stat(args[0])
			if err != nil {
				return usageErrorf("invalid value for 'JOB.TOML': file %q does not exist", args[0])
			}
			if info.IsDir() {
				return usageErrorf("invalid value for 'JOB.TOML': file %q is a directory", args[0])
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(opts.configPath, config.Overrides{
				LogLevel:   opts.logLevel,
				LogFormat:  opts.logFormat,
				PluginDirs: opts.pluginDirs,
			})
			if err != nil {
				return err
			}
			log.Setup(cfg.LogLevel, cfg.LogFormat, stderr)
			if cfg.Source != "" {
				log.Debug("loaded configuration", "path", cfg.Source)
			}

			reg, err := buildRegistry(cfg.PluginRoots)
			if err != nil {
				return err
			}

			if opts.showVersion {
				printVersions(stdout, reg)
				return nil
			}
			return runJob(cmd.Context(), stdout, reg, args[0])
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := cmd.Flags()
	flags.StringVar(&opts.logLevel, "log-level", "", "set the logging level: debug, info, warning, error, critical (default \"info\")")
	flags.StringVar(&opts.logFormat, "log-format", "", "log output format: text or json (default \"text\")")
	flags.StringVar(&opts.configPath, "config", "", "dispatcher configuration file (YAML)")
	flags.StringArrayVar(&opts.pluginDirs, "plugin-dir", nil, "additional plugin root (repeatable)")
	flags.BoolVar(&opts.showVersion, "version", false, "print version and list available plugins")

	return cmd
}

// buildRegistry merges linked-in plugins with manifests found under roots.
func buildRegistry(roots []string) (*plugin.Registry, error) {
	reg := plugin.Builtin()
	logger := log.WithComponent("discovery")
	err := reg.Discover(roots, func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		default:
			logger.Info(msg, args...)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	return reg, nil
}

func runJob(ctx context.Context, stdout io.Writer, reg *plugin.Registry, jobPath string) error {
	res, err := dispatch.New(reg, appName, version).Run(ctx, jobPath)
	if err != nil {
		log.Get().Debug("run failed", slog.String("run_id", res.RunID), slog.Any("states", res.States))
		return err
	}
	fmt.Fprintln(stdout, res.OutputPath)
	return nil
}

func printVersions(w io.Writer, reg *plugin.Registry) {
	fmt.Fprintf(w, "%s, version %s\n", appName, version)
	fmt.Fprintln(w, "\nAvailable plugins:")
	for _, rec := range reg.Records(plugin.Group) {
		fmt.Fprintf(w, "  %-10s: %s, version %s\n", rec.Name, rec.Distribution, rec.Version)
	}
}

// exitCodeFor maps an error to the process exit code.
func exitCodeFor(err error) int {
	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &uerr),
		errors.Is(err, config.ErrConfig),
		errors.Is(err, job.ErrJobRead),
		errors.Is(err, job.ErrJobDecode),
		errors.Is(err, job.ErrMissingSelector),
		errors.Is(err, job.ErrMissingConfigTable),
		errors.Is(err, job.ErrInvalidConfigShape):
		return exitUsage
	case errors.Is(err, plugin.ErrPluginNotFound),
		errors.Is(err, plugin.ErrPluginAmbiguous),
		errors.Is(err, plugin.ErrPluginLoad):
		return exitPlugin
	case errors.Is(err, dispatch.ErrPluginInternal):
		return exitInternal
	case errors.Is(err, plugin.ErrConversion):
		return exitConversion
	case errors.Is(err, container.ErrIO):
		return exitIO
	default:
		return exitInternal
	}
}

var (
	errorColor  = lipgloss.Color("#FF0000")
	noticeColor = lipgloss.Color("#61AFEF")
)

// printDiagnostic writes the user-facing message for err to w.
func printDiagnostic(w io.Writer, err error) {
	color := errorColor
	var msg string
	var uerr *usageError

	switch {
	case errors.As(err, &uerr):
		msg = fmt.Sprintf("Error: %v\nTry '%s --help' for help.", err, appName)
	case errors.Is(err, job.ErrJobDecode):
		msg = "Error decoding JOB.TOML: " + detail(err, job.ErrJobDecode)
	case errors.Is(err, job.ErrMissingSelector),
		errors.Is(err, job.ErrMissingConfigTable),
		errors.Is(err, job.ErrInvalidConfigShape):
		msg = fmt.Sprintf("Invalid JOB.TOML: %v.", err)
	case errors.Is(err, plugin.ErrPluginNotFound):
		color = noticeColor
		msg = capitalize(detail(err, plugin.ErrPluginNotFound)) + "."
	case errors.Is(err, dispatch.ErrPluginInternal):
		msg = "Internal error: " + err.Error()
	case errors.Is(err, plugin.ErrConversion):
		msg = "Conversion failed: " + err.Error()
	default:
		msg = err.Error()
	}

	// Colors are dropped when w is not a terminal.
	style := lipgloss.NewRenderer(w).NewStyle().Foreground(color)
	fmt.Fprintln(w, style.Render(msg))
}

// detail drops the leading sentinel text from err's message.
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
