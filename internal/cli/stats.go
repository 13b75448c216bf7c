package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convograph/convograph/internal/config"
	"github.com/convograph/convograph/internal/query"
)

var statsCmd = &cobra.Command{
	Use:   "scorecard <participant-id>",
	Short: "Print a participant's delegation scorecard",
	Args:  cobra.ExactArgs(1),
	Run:   runScorecard,
}

func runScorecard(cmd *cobra.Command, args []string) {
	printHeader("📊 ConvoGraph Scorecard")

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

	svc := query.NewService(store, engine, routingConfig(cfg))
	view, err := svc.AgentScorecard(context.Background(), args[0])
	if err != nil {
		fmt.Printf("%s %v\n", color.RedString("Lookup failed:"), err)
		os.Exit(1)
	}

	p, sc := view.Participant, view.Scorecard
	name := p.ID
	if p.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", p.DisplayName, p.ID)
	}
	fmt.Printf("Participant:   %s [%s]\n", color.CyanString(name), p.Kind)
	fmt.Printf("Requests out:  %d\n", sc.RequestsIssued)
	fmt.Printf("Requests in:   %d\n", sc.RequestsReceived)
	fmt.Printf("Resolved:      %d (%d ok / %d failed)\n", sc.ResolvedCount, sc.SuccessCount, sc.FailureCount)
	if sc.ResolvedCount > 0 {
		rate := color.GreenString("%.1f%%", sc.SuccessRate*100)
		if sc.SuccessRate < 0.5 {
			rate = color.RedString("%.1f%%", sc.SuccessRate*100)
		}
		fmt.Printf("Success rate:  %s\n", rate)
		fmt.Printf("Mean latency:  %.1fms (variance %.1f)\n", sc.MeanLatencyMs, sc.LatencyVariance)
	}
	if sc.LastDelegationAt != nil {
		fmt.Printf("Last activity: %s\n", sc.LastDelegationAt.Format("2006-01-02 15:04:05 MST"))
	}
}

var routeCmd = &cobra.Command{
	Use:   "route <from-id> <candidate-id>[,<candidate-id>...]",
	Short: "Rank candidate agents for a delegation",
	Args:  cobra.ExactArgs(2),
	Run:   runRoute,
}

func runRoute(cmd *cobra.Command, args []string) {
	printHeader("🧭 ConvoGraph Route")

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

	svc := query.NewService(store, engine, routingConfig(cfg))
	ranked, err := svc.RouteRecommendation(context.Background(), args[0], strings.Split(args[1], ","))
	if err != nil {
		fmt.Printf("%s %v\n", color.RedString("Routing failed:"), err)
		os.Exit(1)
	}

	for i, r := range ranked {
		marker := ""
		if r.Neutral {
			marker = color.YellowString(" (no history)")
		}
		fmt.Printf("%2d. %s  score=%.4f%s\n", i+1, color.CyanString(r.ID), r.Score, marker)
	}
}
