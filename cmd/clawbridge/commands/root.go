// Package commands implements the clawbridge CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawbridge",
		Short: "Bridge between home automation hosts and an OpenClaw gateway",
		Long: `clawbridge connects host software to an OpenClaw chat gateway:
it polls gateway status, relays chat messages and tool invocations, and
exposes a local JSON API with live events.

Examples:
  clawbridge chat "Is the kitchen light on?"
  clawbridge serve
  clawbridge health
  clawbridge schedule list`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newModelsCmd(),
		newToolCmd(),
		newHealthCmd(),
		newScheduleCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
