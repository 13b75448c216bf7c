package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/convograph/convograph/internal/config"
)

func TestOpenStack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "data", "graph.db")

	store, engine, err := openStack(cfg)
	if err != nil {
		t.Fatalf("open stack: %v", err)
	}
	defer store.Close()

	if _, err := store.UpsertParticipant(context.Background(), "a1", "agent", "", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	sc, err := engine.Scorecard(context.Background(), "a1")
	if err != nil {
		t.Fatalf("scorecard: %v", err)
	}
	if sc.ResolvedCount != 0 {
		t.Fatalf("fresh participant resolved count = %d", sc.ResolvedCount)
	}
}

func TestRoutingConfigMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Routing.HalfLifeHours = 12
	cfg.Routing.NeutralPrior = 0.3

	rc := routingConfig(cfg)
	if rc.HalfLife != 12*time.Hour {
		t.Errorf("half life = %v", rc.HalfLife)
	}
	if rc.NeutralPrior != 0.3 {
		t.Errorf("neutral prior = %v", rc.NeutralPrior)
	}
}
