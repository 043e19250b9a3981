package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/configs"
	"github.com/mikeplath/LOKIV2/internal/config"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect and create LOKI configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/loki/config.yaml)
  3. Project config (.loki.yaml or .loki.toml, or --config)
  4. .env in the working directory
  5. Environment variables (LOKI_*)
  6. Command flags`,
		Example: `  # Show the effective configuration
  loki config show

  # Write the defaults to .loki.yaml for editing
  loki config init`,
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.New(cmd.OutOrStdout()).JSON(cfg)
			}
			return cfg.EncodeYAML(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force, effective bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented .loki.yaml with the defaults",
		Long: `Write .loki.yaml in the working directory.

By default the file is the commented template with the built-in defaults.
With --effective it holds the configuration currently in force, including
user config and LOKI_* environment overrides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			write := func(path string) error {
				return os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644)
			}
			if effective {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				write = cfg.WriteYAML
			}
			return runConfigInit(output.New(cmd.OutOrStdout()), force, write)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "Overwrite an existing .loki.yaml")
	f.BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")
	return cmd
}

func runConfigInit(out *output.Writer, force bool, write func(string) error) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	path := filepath.Join(cwd, ".loki.yaml")

	if fileExists(path) && !force {
		out.Warning("Project configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to replace it")
		return nil
	}
	if err := write(path); err != nil {
		return lkerrors.IOError("cannot write "+path, err)
	}

	out.Success("Created project configuration")
	out.Statusf("📁", "Location: %s", path)
	return nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
