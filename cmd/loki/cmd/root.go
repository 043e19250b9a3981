// Package cmd provides the CLI commands for LOKI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/config"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/logging"
	"github.com/mikeplath/LOKIV2/internal/profiling"
	"github.com/mikeplath/LOKIV2/pkg/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	dataDir    string
	configPath string
	debug      bool
	noColor    bool
	profile    profiling.Options

	stopProfile    func() error
	loggingCleanup func()
}

// NewRootCmd creates the root command for the loki CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "loki",
		Short: "Offline semantic search over a PDF library",
		Long: `LOKI indexes a directory of PDF documents and answers natural
language questions with the most relevant passages, entirely offline.

Typical workflow:
  loki index ./library     extract and chunk every PDF (resumable)
  loki build               embed the chunks and publish a vector index
  loki query "how to purify water"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("loki version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "Data directory for records and snapshots (default ./loki_data)")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default .loki.yaml or .loki.toml in the working directory)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.loki/logs/")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output (also honors NO_COLOR)")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Mem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return g.start()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return g.stop()
	}

	cmd.AddCommand(newIndexCmd(g))
	cmd.AddCommand(newBuildCmd(g))
	cmd.AddCommand(newQueryCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newHistoryCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// start enables debug logging and profiling when requested.
func (g *globalOptions) start() error {
	if g.debug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		g.loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if g.profile.Enabled() {
		stop, err := profiling.Start(g.profile)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		g.stopProfile = stop
	}

	return nil
}

// stop flushes profiles and closes the log file. It is safe to call twice.
func (g *globalOptions) stop() error {
	var err error
	if g.stopProfile != nil {
		err = g.stopProfile()
		g.stopProfile = nil
	}
	if g.loggingCleanup != nil {
		if g.debug {
			slog.Info("debug_logging_stopped")
		}
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// loadConfig loads the layered configuration for the working directory and
// applies --data-dir. The data directory is made absolute.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.Load(cwd, g.configPath)
	if err != nil {
		return nil, err
	}

	if g.dataDir != "" {
		cfg.Paths.DataDir = g.dataDir
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		cfg.Paths.DataDir = filepath.Join(cwd, cfg.Paths.DataDir)
	}

	if g.loggingCleanup == nil {
		g.loggingCleanup = fileLogging(cfg)
	}
	return cfg, nil
}

// fileLogging sends slog output to the rotating log file at the configured
// level so that it never interleaves with command output. Failure to open the
// log file is not fatal.
func fileLogging(cfg *config.Config) func() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil
	}
	slog.SetDefault(logger)
	return cleanup
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command. Profiles and logs are flushed even when
// the command fails.
func Execute() error {
	root, g := newRootCmd()
	ran, err := root.ExecuteC()
	if stopErr := g.stop(); err == nil {
		err = stopErr
	}
	if err != nil && wantsJSON(ran) {
		return &jsonError{err}
	}
	return err
}

// jsonError marks a failure of a command run with --json so that it is
// reported as JSON on stderr.
type jsonError struct{ err error }

func (e *jsonError) Error() string { return e.err.Error() }
func (e *jsonError) Unwrap() error { return e.err }

func wantsJSON(c *cobra.Command) bool {
	if c == nil {
		return false
	}
	on, err := c.Flags().GetBool("json")
	return err == nil && on
}

// ReportError writes err to w as text, or as JSON when the failing command
// was run with --json.
func ReportError(w io.Writer, err error) {
	var je *jsonError
	if errors.As(err, &je) {
		if data, jerr := lkerrors.FormatJSON(je.err); jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
	}
	_, _ = fmt.Fprint(w, lkerrors.FormatForCLI(err))
}
