package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/convograph/convograph/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   ___                     ___                 _\n" +
		"  / __|___ _ ___ _____ _ _/ __|_ _ __ _ _ __| |_\n" +
		" | (__/ _ \\ ' \\ V / _ \\ '_| (_ | '_/ _` | '_ \\ ' \\\n" +
		"  \\___\\___/_||_\\_/\\___/_|  \\___|_| \\__,_| .__/_||_|\n" +
		"                                        |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "convograph",
	Short: "ConvoGraph - conversation graph store and analytics",
	Long:  color.CyanString(logo) + "\nAn event-sourced store for agent collaboration graphs with live metrics and routing.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(snapshotCmd)
}
