package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convograph/convograph/internal/config"
	"github.com/convograph/convograph/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import a full state snapshot",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <file.json>",
	Short: "Write the full graph and aggregates to a snapshot file",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Load a snapshot into the configured store",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotImport,
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) {
	printHeader("💾 ConvoGraph Snapshot")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	store, engine, err := openStack(cfg)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	snap, err := snapshot.Export(context.Background(), store, engine)
	if err != nil {
		fmt.Printf("%s %v\n", color.RedString("Export failed:"), err)
		os.Exit(1)
	}
	if err := snapshot.WriteFile(args[0], snap); err != nil {
		fmt.Printf("%s %v\n", color.RedString("Write failed:"), err)
		os.Exit(1)
	}
	fmt.Printf("%s %d participants, %d conversations, %d delegations -> %s\n",
		color.GreenString("Exported"), len(snap.Participants), len(snap.Conversations), len(snap.Delegations), args[0])
}

func runSnapshotImport(cmd *cobra.Command, args []string) {
	printHeader("💾 ConvoGraph Snapshot")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	snap, err := snapshot.ReadFile(args[0])
	if err != nil {
		fmt.Printf("%s %v\n", color.RedString("Read failed:"), err)
		os.Exit(1)
	}

	store, engine, err := openStack(cfg)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := snapshot.Restore(context.Background(), store, engine, snap); err != nil {
		fmt.Printf("%s %v\n", color.RedString("Import failed:"), err)
		os.Exit(1)
	}
	fmt.Printf("%s %d participants, %d conversations, %d delegations from %s\n",
		color.GreenString("Imported"), len(snap.Participants), len(snap.Conversations), len(snap.Delegations), args[0])
}
