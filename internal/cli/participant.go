package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convograph/convograph/internal/config"
)

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <participant-id>",
	Short: "Mark a participant inactive (identity and history are kept)",
	Args:  cobra.ExactArgs(1),
	Run:   runDeactivate,
}

func runDeactivate(cmd *cobra.Command, args []string) {
	printHeader("👤 ConvoGraph Participant")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	store, _, err := openStack(cfg)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.DeactivateParticipant(context.Background(), args[0]); err != nil {
		fmt.Printf("%s %v\n", color.RedString("Deactivate failed:"), err)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n", color.GreenString("Deactivated"), args[0])
}

func init() {
	rootCmd.AddCommand(deactivateCmd)
}
