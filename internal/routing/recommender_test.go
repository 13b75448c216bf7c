package routing

import (
	"math"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNeutralPriorForNewAgents(t *testing.T) {
	// A brand-new agent gets the configured prior instead of zero so it
	// keeps receiving traffic and can build a record. This is a deliberate
	// explore/exploit choice, not a missing-data fallback.
	candidates := []Candidate{
		{ID: "fresh-agent"},
		{ID: "flight-agent", SuccessRate: 0.9, MeanLatencyMs: 80, ResolvedCount: 40, LastDelegationAt: now.Add(-time.Hour)},
	}

	ranked := Rank(now, DefaultConfig(), candidates)
	if ranked[0].ID != "flight-agent" {
		t.Fatalf("established agent should rank first, got %s", ranked[0].ID)
	}
	if ranked[1].ID != "fresh-agent" || !ranked[1].Neutral {
		t.Fatalf("expected neutral-scored fresh agent, got %+v", ranked[1])
	}
	if ranked[1].Score != 0.5 {
		t.Fatalf("neutral prior = %v, want 0.5", ranked[1].Score)
	}
}

func TestRecencyDecay(t *testing.T) {
	cfg := DefaultConfig()
	recent := []Candidate{{ID: "a", SuccessRate: 1, MeanLatencyMs: 100, ResolvedCount: 10, LastDelegationAt: now}}
	stale := []Candidate{{ID: "a", SuccessRate: 1, MeanLatencyMs: 100, ResolvedCount: 10, LastDelegationAt: now.Add(-24 * time.Hour)}}

	fresh := Rank(now, cfg, recent)[0].Score
	old := Rank(now, cfg, stale)[0].Score
	if math.Abs(old-fresh/2) > 1e-9 {
		t.Fatalf("one half-life should halve the score: fresh=%v old=%v", fresh, old)
	}
}

func TestLatencyNormalization(t *testing.T) {
	// Same success rate and recency; the slower agent scores lower, but
	// scaling both latencies by a constant changes nothing.
	base := []Candidate{
		{ID: "fast", SuccessRate: 0.8, MeanLatencyMs: 100, ResolvedCount: 10, LastDelegationAt: now},
		{ID: "slow", SuccessRate: 0.8, MeanLatencyMs: 300, ResolvedCount: 10, LastDelegationAt: now},
	}
	scaled := []Candidate{
		{ID: "fast", SuccessRate: 0.8, MeanLatencyMs: 100000, ResolvedCount: 10, LastDelegationAt: now},
		{ID: "slow", SuccessRate: 0.8, MeanLatencyMs: 300000, ResolvedCount: 10, LastDelegationAt: now},
	}

	a := Rank(now, DefaultConfig(), base)
	b := Rank(now, DefaultConfig(), scaled)
	if a[0].ID != "fast" {
		t.Fatalf("faster agent should win: %+v", a)
	}
	for i := range a {
		if a[i].ID != b[i].ID || math.Abs(a[i].Score-b[i].Score) > 1e-12 {
			t.Fatalf("scores must be scale invariant:\n%+v\n%+v", a, b)
		}
	}
}

func TestDeterministicTieBreaks(t *testing.T) {
	tied := []Candidate{
		{ID: "zeta", SuccessRate: 0.9, MeanLatencyMs: 100, LatencyVariance: 25, ResolvedCount: 10, LastDelegationAt: now},
		{ID: "alpha", SuccessRate: 0.9, MeanLatencyMs: 100, LatencyVariance: 25, ResolvedCount: 10, LastDelegationAt: now},
		{ID: "mid", SuccessRate: 0.9, MeanLatencyMs: 100, LatencyVariance: 5, ResolvedCount: 10, LastDelegationAt: now},
	}

	ranked := Rank(now, DefaultConfig(), tied)
	if ranked[0].ID != "mid" {
		t.Fatalf("lower variance should break the tie, got %s", ranked[0].ID)
	}
	if ranked[1].ID != "alpha" || ranked[2].ID != "zeta" {
		t.Fatalf("id should break equal variance, got %s then %s", ranked[1].ID, ranked[2].ID)
	}

	// Input order never changes the output.
	reversed := []Candidate{tied[2], tied[0], tied[1]}
	again := Rank(now, DefaultConfig(), reversed)
	for i := range ranked {
		if ranked[i] != again[i] {
			t.Fatalf("ranking depends on input order:\n%+v\n%+v", ranked, again)
		}
	}
}

func TestDuplicateCandidatesIgnored(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", SuccessRate: 0.9, MeanLatencyMs: 100, ResolvedCount: 10, LastDelegationAt: now},
		{ID: "a", SuccessRate: 0.1, MeanLatencyMs: 900, ResolvedCount: 2, LastDelegationAt: now},
	}
	ranked := Rank(now, DefaultConfig(), candidates)
	if len(ranked) != 1 {
		t.Fatalf("duplicate ids must collapse, got %d entries", len(ranked))
	}
}

func TestZeroConfigDefaults(t *testing.T) {
	ranked := Rank(now, Config{}, []Candidate{{ID: "new"}})
	if ranked[0].Score != 0.5 {
		t.Fatalf("zero config should fall back to default prior, got %v", ranked[0].Score)
	}
}
