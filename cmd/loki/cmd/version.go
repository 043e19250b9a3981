package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/output"
	"github.com/mikeplath/LOKIV2/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the loki build",
		Long:  `Print the loki version with its commit, build date, Go toolchain and platform.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch {
			case asJSON:
				return output.New(w).JSON(version.GetInfo())
			case short:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			default:
				_, err := fmt.Fprintln(w, version.String())
				return err
			}
		},
	}

	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "Print the build as JSON")
	f.BoolVar(&short, "short", false, "Print the version number only")
	return cmd
}
