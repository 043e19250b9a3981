package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/config"
	"github.com/mikeplath/LOKIV2/internal/embed"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/preflight"
	"github.com/mikeplath/LOKIV2/internal/ui"
)

type doctorOptions struct {
	verbose    bool
	json       bool
	ocr        bool
	noEmbedder bool
}

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure LOKI can operate correctly.

Checks:
  - Data directory is writable
  - Disk space (100MB minimum, warning below 1GB)
  - File descriptor limits
  - OCR tools (pdftoppm, tesseract) when OCR is enabled
  - Embedding backend availability

The embedder check is a warning only: indexing works without it, but
'loki build' and 'loki query' need it.`,
		Example: `  # Run diagnostics
  loki doctor

  # Include the OCR tool check
  loki doctor --ocr

  # JSON output for scripting
  loki doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ocr") {
				cfg.Indexing.OCR = opts.ocr
			}
			return runDoctor(ctx, cmd.OutOrStdout(), cfg, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.ocr, "ocr", false, "Check OCR tools (default from indexing.ocr)")
	cmd.Flags().BoolVar(&opts.noEmbedder, "no-embedder", false, "Skip the embedder check")

	return cmd
}

func runDoctor(ctx context.Context, out io.Writer, cfg *config.Config, opts doctorOptions) error {
	checkerOpts := []preflight.Option{
		preflight.WithOCR(cfg.Indexing.OCR),
		preflight.WithWorkers(cfg.Indexing.Workers),
		preflight.WithVerbose(opts.verbose),
		preflight.WithOutput(out),
	}

	if cfg.Paths.CorpusDir != "" {
		checkerOpts = append(checkerOpts, preflight.WithCorpus(cfg.Paths.CorpusDir, cfg.Paths.Exclude))
	}

	var extra []preflight.CheckResult
	if !opts.noEmbedder {
		e, result := connectEmbedder(ctx, cfg)
		if e != nil {
			defer func() { _ = e.Close() }()
			checkerOpts = append(checkerOpts, preflight.WithEmbedder(e))
		} else {
			extra = append(extra, result)
		}
	}

	checker := preflight.New(checkerOpts...)
	results := append(checker.RunAll(ctx, cfg.Paths.DataDir), extra...)

	if opts.json {
		if err := writeDoctorJSON(out, checker, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		if !preflight.NeedsCheck(cfg.Paths.DataDir) {
			if age := preflight.MarkerAge(cfg.Paths.DataDir); age > 0 {
				_, _ = fmt.Fprintf(out, "\nLast successful check: %s ago\n", ui.FormatDuration(age))
			}
		}
	}

	if checker.HasCriticalFailures(results) {
		if err := preflight.ClearMarker(cfg.Paths.DataDir); err != nil {
			slog.Debug("preflight_clear_failed", slog.String("error", err.Error()))
		}
		return lkerrors.ConfigError("system check failed", nil).
			WithSuggestion("Fix the errors listed above and run 'loki doctor' again")
	}
	if err := preflight.MarkPassed(cfg.Paths.DataDir); err != nil {
		return lkerrors.IOError("failed to record successful check", err)
	}
	return nil
}

// connectEmbedder creates the configured embedder. When that fails it
// returns the warning to report in its place.
func connectEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, preflight.CheckResult) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	opts := embedOptions(cfg)
	opts.NoCache = true
	e, err := embed.NewEmbedder(connectCtx, opts)
	if err != nil {
		return nil, preflight.CheckResult{
			Name:     "embedder",
			Status:   preflight.StatusWarn,
			Message:  fmt.Sprintf("%s/%s unavailable", cfg.Embeddings.Provider, cfg.Embeddings.Model),
			Required: false,
			Details:  err.Error(),
		}
	}
	return e, preflight.CheckResult{}
}

type doctorJSON struct {
	Status   string            `json:"status"`
	Checks   []doctorCheckJSON `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

type doctorCheckJSON struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func writeDoctorJSON(out io.Writer, checker *preflight.Checker, results []preflight.CheckResult) error {
	doc := doctorJSON{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorCheckJSON, len(results)),
	}
	for i, r := range results {
		doc.Checks[i] = doctorCheckJSON{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			doc.Errors = append(doc.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			doc.Warnings = append(doc.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
