// Package config implements the config command.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/jitcov/internal/cli/helpers"
	"github.com/coral-mesh/jitcov/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the jitcov configuration",
		Long: `The effective configuration is built from defaults, the YAML file named by
--config or JITCOV_CONFIG, JITCOV_* environment variables and command-line
flags, in that order.`,
	}

	cmd.AddCommand(newViewCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newSchemaCmd())
	return cmd
}

func newViewCmd() *cobra.Command {
	flags := helpers.NewConfigFlags()
	var format string
	supported := []helpers.OutputFormat{helpers.FormatYAML, helpers.FormatJSON}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, supported); err != nil {
				return err
			}
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, supported)
	return cmd
}

func newValidateCmd() *cobra.Command {
	flags := helpers.NewConfigFlags()

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			for _, w := range cfg.Warnings() {
				cmd.Printf("Warning: %s\n", w)
			}
			cmd.Printf("Configuration is valid (%d module(s) instrumented)\n", len(cfg.Modules.Entries()))
			return nil
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.SchemaJSON()
			if err != nil {
				return fmt.Errorf("generate schema: %w", err)
			}
			cmd.Println(string(data))
			return nil
		},
	}
}
