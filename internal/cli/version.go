package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/council/internal/output"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type versionOutput struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionOutput{
				Version:   Version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if IsJSONOutput() {
				return output.WriteJSON(cmd.OutOrStdout(), info, true)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "council %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
			return nil
		},
	}
}
