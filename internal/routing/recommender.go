// Package routing ranks candidate agents for a delegation using only
// aggregate statistics. Rank is a pure function: no store access, no
// clock reads, deterministic output for identical input.
package routing

import (
	"math"
	"sort"
	"time"
)

// Config tunes the scoring function.
type Config struct {
	// HalfLife is the age at which a candidate's recency weight halves.
	HalfLife time.Duration
	// NeutralPrior is the score assigned to candidates with no resolved
	// delegations. A non-zero prior keeps new agents in rotation instead
	// of starving them behind established ones; see the package tests.
	NeutralPrior float64
}

// DefaultConfig returns the standard half-life and prior.
func DefaultConfig() Config {
	return Config{HalfLife: 24 * time.Hour, NeutralPrior: 0.5}
}

// Candidate is the aggregate view of one target agent, as produced by the
// aggregation engine.
type Candidate struct {
	ID               string
	SuccessRate      float64
	MeanLatencyMs    float64
	LatencyVariance  float64
	ResolvedCount    int64
	LastDelegationAt time.Time
}

// Recommendation is one ranked routing choice.
type Recommendation struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Neutral bool    `json:"neutral,omitempty"` // scored by prior, not history
}

// Rank scores each candidate as
//
//	successRate × recencyWeight / (1 + normalizedLatency)
//
// where recencyWeight decays exponentially with the age of the candidate's
// most recent delegation, and normalizedLatency is the candidate's mean
// latency over the mean latency across all candidates with history. Ties
// break on lowest latency variance, then lexicographically smallest id.
func Rank(now time.Time, cfg Config, candidates []Candidate) []Recommendation {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 24 * time.Hour
	}
	if cfg.NeutralPrior <= 0 {
		cfg.NeutralPrior = 0.5
	}

	var latencySum float64
	var withHistory int
	for _, c := range candidates {
		if c.ResolvedCount > 0 {
			latencySum += c.MeanLatencyMs
			withHistory++
		}
	}
	globalMean := 0.0
	if withHistory > 0 {
		globalMean = latencySum / float64(withHistory)
	}

	byID := make(map[string]Candidate, len(candidates))
	out := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := byID[c.ID]; dup {
			continue
		}
		byID[c.ID] = c

		if c.ResolvedCount == 0 {
			out = append(out, Recommendation{ID: c.ID, Score: cfg.NeutralPrior, Neutral: true})
			continue
		}

		age := now.Sub(c.LastDelegationAt)
		if age < 0 {
			age = 0
		}
		recency := math.Exp2(-age.Hours() / cfg.HalfLife.Hours())

		normalized := 0.0
		if globalMean > 0 {
			normalized = c.MeanLatencyMs / globalMean
		}
		out = append(out, Recommendation{ID: c.ID, Score: c.SuccessRate * recency / (1 + normalized)})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		av, bv := byID[a.ID].LatencyVariance, byID[b.ID].LatencyVariance
		if av != bv {
			return av < bv
		}
		return a.ID < b.ID
	})
	return out
}
