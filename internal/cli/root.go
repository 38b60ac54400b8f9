// Package cli assembles the jitcov command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/jitcov/internal/cli/config"
	"github.com/coral-mesh/jitcov/internal/cli/helpers"
	"github.com/coral-mesh/jitcov/internal/cli/replay"
	"github.com/coral-mesh/jitcov/internal/cli/report"
	"github.com/coral-mesh/jitcov/pkg/version"
)

// NewRootCmd creates the jitcov root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jitcov",
		Short:         "jitcov - method-level coverage for managed runtimes",
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(replay.NewReplayCmd())
	rootCmd.AddCommand(report.NewReportCmd())
	rootCmd.AddCommand(config.NewConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	var format string
	supported := []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON, helpers.FormatYAML}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, supported); err != nil {
				return err
			}
			if format != string(helpers.FormatTable) {
				formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
				if err != nil {
					return err
				}
				return formatter.Format(version.Get(), cmd.OutOrStdout())
			}
			cmd.Printf("jitcov version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
			return nil
		},
	}
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, supported)
	return cmd
}
