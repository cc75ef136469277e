package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Persistent memory substrate for AI agents",
	Long:  "Engram stores agent memories with human-like retention: frequently used memories stay vivid, unused ones fade, and feedback reshapes what is kept.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.engram/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(rewardCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
}
