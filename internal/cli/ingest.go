package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convograph/convograph/internal/config"
	"github.com/convograph/convograph/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Replay interaction events from a JSONL file",
	Args:  cobra.ExactArgs(1),
	Run:   runIngest,
}

func runIngest(cmd *cobra.Command, args []string) {
	printHeader("📥 ConvoGraph Ingest")

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

	pipe := ingest.NewPipeline(store, engine)
	n, err := ingest.ReplayFile(cmd.Context(), args[0], pipe)
	if err != nil {
		fmt.Printf("%s %v (after %d events)\n", color.RedString("Ingest failed:"), err, n)
		os.Exit(1)
	}
	fmt.Printf("%s %d events from %s\n", color.GreenString("Ingested"), n, args[0])
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild aggregate statistics from the committed graph",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🔁 ConvoGraph Replay")

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

		if err := engine.Replay(context.Background(), store); err != nil {
			fmt.Printf("%s %v\n", color.RedString("Replay failed:"), err)
			os.Exit(1)
		}
		fmt.Println(color.GreenString("Aggregates rebuilt."))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
