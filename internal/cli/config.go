package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/council/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			format = strings.ToLower(strings.TrimSpace(format))
			if jsonOutput || format == "json" {
				return output.WriteJSON(cmd.OutOrStdout(), cfg, true)
			}
			return output.WriteYAML(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, json")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				if IsJSONOutput() {
					_ = output.WriteJSON(cmd.OutOrStdout(),
						output.NewErrorWithDetails("configuration is invalid", err.Error()), true)
				}
				return err
			}
			summary := fmt.Sprintf("configuration is valid: %d council members, chairman %s",
				len(cfg.Council.CouncilModels), cfg.Council.ChairmanModel)
			if IsJSONOutput() {
				return output.WriteJSON(cmd.OutOrStdout(), output.NewSuccess(summary), true)
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}
