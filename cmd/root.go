package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/tether/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:           "tether",
		Short:         "Tether - Reverse SSH Tunnel Manager",
		Long:          `Tether - Reverse SSH Tunnel Manager`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize config and bind global flags to the config
			if err := core.InitializeConfig(cmd); err != nil {
				return err
			}
			core.SetupLogging(core.GetVerbose())
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewSetupCommand(),
		NewListCommand(),
		NewKillCommand(),
		NewHistoryCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
