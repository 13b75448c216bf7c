// Package stats maintains per-participant and per-pair delegation
// aggregates, driven by committed graph store events. It owns only the
// derived tables; base entities stay with the store. Every apply is keyed
// by the triggering event id, so at-least-once delivery never
// double-counts, and a full replay of committed edges reproduces the
// incremental state exactly.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/convograph/convograph/internal/graph"
)

const aggregateSchema = `
CREATE TABLE IF NOT EXISTS agent_stats (
	participant_id TEXT PRIMARY KEY,
	requests_out INTEGER NOT NULL DEFAULT 0,
	requests_in INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	latency_count INTEGER NOT NULL DEFAULT 0,
	latency_mean REAL NOT NULL DEFAULT 0,
	latency_m2 REAL NOT NULL DEFAULT 0,
	last_delegation_at DATETIME
);

CREATE TABLE IF NOT EXISTS pair_stats (
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	delegation_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_delegation_at DATETIME,
	PRIMARY KEY (from_id, to_id)
);

CREATE TABLE IF NOT EXISTS applied_events (
	event_id TEXT PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Scorecard is the aggregate view of one participant.
type Scorecard struct {
	ParticipantID    string     `json:"participant_id"`
	RequestsIssued   int64      `json:"requests_issued"`
	RequestsReceived int64      `json:"requests_received"`
	SuccessCount     int64      `json:"success_count"`
	FailureCount     int64      `json:"failure_count"`
	SuccessRate      float64    `json:"success_rate"`
	MeanLatencyMs    float64    `json:"mean_latency_ms"`
	LatencyVariance  float64    `json:"latency_variance"`
	ResolvedCount    int64      `json:"resolved_count"`
	LastDelegationAt *time.Time `json:"last_delegation_at,omitempty"`
}

// PairStat is the aggregate view of one ordered participant pair.
type PairStat struct {
	From             string     `json:"from"`
	To               string     `json:"to"`
	DelegationCount  int64      `json:"delegation_count"`
	SuccessCount     int64      `json:"success_count"`
	FailureCount     int64      `json:"failure_count"`
	SuccessRatio     float64    `json:"success_ratio"`
	LastDelegationAt *time.Time `json:"last_delegation_at,omitempty"`
}

// Engine is the single writer for aggregate tables. It shares the store's
// database so replay and incremental updates see one consistent commit
// history.
type Engine struct {
	db *sql.DB
}

// NewEngine prepares the aggregate tables on the store's database.
func NewEngine(store *graph.Store) (*Engine, error) {
	db := store.DB()
	if _, err := db.Exec(aggregateSchema); err != nil {
		return nil, fmt.Errorf("failed to apply aggregate schema: %w", err)
	}
	return &Engine{db: db}, nil
}

// markApplied claims the event id inside tx. Returns false when the event
// was already applied.
func markApplied(ctx context.Context, tx *sql.Tx, eventID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO applied_events (event_id) VALUES (?)`, eventID)
	if err != nil {
		return false, graph.MapErr(fmt.Errorf("mark applied: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ApplyDelegationIssued folds one committed pending edge into the
// aggregates: requester's requests_out, target's requests_in, and the
// ordered pair count. At-least-once safe.
func (e *Engine) ApplyDelegationIssued(ctx context.Context, eventID string, edge *graph.DelegationEdge) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return graph.MapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	fresh, err := markApplied(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if !fresh {
		slog.Debug("delegation_issued already applied", "event_id", eventID)
		return nil
	}

	ts := edge.Timestamp.UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_stats (participant_id, requests_out, last_delegation_at) VALUES (?, 1, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			requests_out = requests_out + 1,
			last_delegation_at = MAX(COALESCE(last_delegation_at, excluded.last_delegation_at), excluded.last_delegation_at)`,
		edge.From, ts); err != nil {
		return graph.MapErr(fmt.Errorf("update requester stats: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_stats (participant_id, requests_in, last_delegation_at) VALUES (?, 1, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			requests_in = requests_in + 1,
			last_delegation_at = MAX(COALESCE(last_delegation_at, excluded.last_delegation_at), excluded.last_delegation_at)`,
		edge.To, ts); err != nil {
		return graph.MapErr(fmt.Errorf("update target stats: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pair_stats (from_id, to_id, delegation_count, last_delegation_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(from_id, to_id) DO UPDATE SET
			delegation_count = delegation_count + 1,
			last_delegation_at = MAX(COALESCE(last_delegation_at, excluded.last_delegation_at), excluded.last_delegation_at)`,
		edge.From, edge.To, ts); err != nil {
		return graph.MapErr(fmt.Errorf("update pair stats: %w", err))
	}
	return graph.MapErr(tx.Commit())
}

// ApplyDelegationResolved folds one resolution into the target's
// success/failure counters and its Welford latency accumulator, plus the
// pair outcome counters. At-least-once safe.
func (e *Engine) ApplyDelegationResolved(ctx context.Context, eventID string, edge *graph.DelegationEdge) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return graph.MapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	fresh, err := markApplied(ctx, tx, eventID)
	if err != nil {
		return err
	}
	if !fresh {
		slog.Debug("delegation_resolved already applied", "event_id", eventID)
		return nil
	}

	var w Welford
	err = tx.QueryRowContext(ctx, `
		SELECT latency_count, latency_mean, latency_m2 FROM agent_stats WHERE participant_id = ?`,
		edge.To).Scan(&w.Count, &w.Mean, &w.M2)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return graph.MapErr(fmt.Errorf("read latency accumulator: %w", err))
	}
	w.Add(float64(edge.LatencyMs))

	successInc, failureInc := 0, 0
	if edge.Outcome == "success" {
		successInc = 1
	} else {
		failureInc = 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_stats (participant_id, success_count, failure_count, latency_count, latency_mean, latency_m2)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			latency_count = excluded.latency_count,
			latency_mean = excluded.latency_mean,
			latency_m2 = excluded.latency_m2`,
		edge.To, successInc, failureInc, w.Count, w.Mean, w.M2); err != nil {
		return graph.MapErr(fmt.Errorf("update target stats: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pair_stats (from_id, to_id, success_count, failure_count) VALUES (?, ?, ?, ?)
		ON CONFLICT(from_id, to_id) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count`,
		edge.From, edge.To, successInc, failureInc); err != nil {
		return graph.MapErr(fmt.Errorf("update pair stats: %w", err))
	}
	return graph.MapErr(tx.Commit())
}

// Scorecard returns the aggregate counters for one participant. A
// participant with no recorded delegations gets a zero scorecard rather
// than an error.
func (e *Engine) Scorecard(ctx context.Context, participantID string) (*Scorecard, error) {
	sc := &Scorecard{ParticipantID: participantID}
	var w Welford
	var last sql.NullTime
	err := e.db.QueryRowContext(ctx, `
		SELECT requests_out, requests_in, success_count, failure_count, latency_count, latency_mean, latency_m2, last_delegation_at
		FROM agent_stats WHERE participant_id = ?`, participantID).Scan(
		&sc.RequestsIssued, &sc.RequestsReceived, &sc.SuccessCount, &sc.FailureCount,
		&w.Count, &w.Mean, &w.M2, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scorecard: %w", err)
	}
	sc.ResolvedCount = sc.SuccessCount + sc.FailureCount
	if sc.ResolvedCount > 0 {
		sc.SuccessRate = float64(sc.SuccessCount) / float64(sc.ResolvedCount)
	}
	sc.MeanLatencyMs = w.Mean
	sc.LatencyVariance = w.Variance()
	if last.Valid {
		t := last.Time
		sc.LastDelegationAt = &t
	}
	return sc, nil
}

// CollaborationPairs returns ordered pairs with delegation count at or
// above minCount, most active first. Cancellation is checked between rows
// so large graphs abandon promptly.
func (e *Engine) CollaborationPairs(ctx context.Context, minCount int64, offset, limit int) ([]PairStat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT from_id, to_id, delegation_count, success_count, failure_count, last_delegation_at
		FROM pair_stats WHERE delegation_count >= ?
		ORDER BY delegation_count DESC, from_id, to_id LIMIT ? OFFSET ?`,
		minCount, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var out []PairStat
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var p PairStat
		var last sql.NullTime
		if err := rows.Scan(&p.From, &p.To, &p.DelegationCount, &p.SuccessCount, &p.FailureCount, &last); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		if resolved := p.SuccessCount + p.FailureCount; resolved > 0 {
			p.SuccessRatio = float64(p.SuccessCount) / float64(resolved)
		}
		if last.Valid {
			t := last.Time
			p.LastDelegationAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Replay rebuilds every aggregate from the committed delegation edges.
// The result is identical to the incremental path, including the
// applied-event bookkeeping, because edges carry their originating event
// ids.
func (e *Engine) Replay(ctx context.Context, store *graph.Store) error {
	for _, table := range []string{"agent_stats", "pair_stats", "applied_events"} {
		if _, err := e.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		edges, last, err := store.ListDelegations(ctx, after, 500)
		if err != nil {
			return fmt.Errorf("list delegations: %w", err)
		}
		if len(edges) == 0 {
			return nil
		}
		for i := range edges {
			edge := &edges[i]
			issuedID := edge.IssuedEventID
			if issuedID == "" {
				issuedID = "edge:" + edge.ID + ":issued"
			}
			if err := e.ApplyDelegationIssued(ctx, issuedID, edge); err != nil {
				return err
			}
			if edge.Outcome == "pending" {
				continue
			}
			resolvedID := edge.ResolvedEventID
			if resolvedID == "" {
				resolvedID = "edge:" + edge.ID + ":resolved"
			}
			if err := e.ApplyDelegationResolved(ctx, resolvedID, edge); err != nil {
				return err
			}
		}
		after = last
	}
}

// ExportRows returns every agent and pair aggregate plus the applied event
// ids, for snapshotting.
func (e *Engine) ExportRows(ctx context.Context) ([]AgentRow, []PairStat, []string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT participant_id, requests_out, requests_in, success_count, failure_count, latency_count, latency_mean, latency_m2, last_delegation_at
		FROM agent_stats ORDER BY participant_id`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("export agent stats: %w", err)
	}
	defer rows.Close()

	var agents []AgentRow
	for rows.Next() {
		var a AgentRow
		var last sql.NullTime
		if err := rows.Scan(&a.ParticipantID, &a.RequestsOut, &a.RequestsIn, &a.SuccessCount,
			&a.FailureCount, &a.Latency.Count, &a.Latency.Mean, &a.Latency.M2, &last); err != nil {
			return nil, nil, nil, fmt.Errorf("scan agent row: %w", err)
		}
		if last.Valid {
			t := last.Time
			a.LastDelegationAt = &t
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	pairs, err := e.CollaborationPairs(ctx, 0, 0, 1<<30)
	if err != nil {
		return nil, nil, nil, err
	}

	evRows, err := e.db.QueryContext(ctx, `SELECT event_id FROM applied_events ORDER BY event_id`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("export applied events: %w", err)
	}
	defer evRows.Close()
	var applied []string
	for evRows.Next() {
		var id string
		if err := evRows.Scan(&id); err != nil {
			return nil, nil, nil, err
		}
		applied = append(applied, id)
	}
	return agents, pairs, applied, evRows.Err()
}

// ImportRows restores aggregates from a snapshot, replacing current state.
func (e *Engine) ImportRows(ctx context.Context, agents []AgentRow, pairs []PairStat, applied []string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return graph.MapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	for _, table := range []string{"agent_stats", "pair_stats", "applied_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	for _, a := range agents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_stats (participant_id, requests_out, requests_in, success_count, failure_count, latency_count, latency_mean, latency_m2, last_delegation_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ParticipantID, a.RequestsOut, a.RequestsIn, a.SuccessCount, a.FailureCount,
			a.Latency.Count, a.Latency.Mean, a.Latency.M2, a.LastDelegationAt); err != nil {
			return fmt.Errorf("import agent row: %w", err)
		}
	}
	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pair_stats (from_id, to_id, delegation_count, success_count, failure_count, last_delegation_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.From, p.To, p.DelegationCount, p.SuccessCount, p.FailureCount, p.LastDelegationAt); err != nil {
			return fmt.Errorf("import pair row: %w", err)
		}
	}
	for _, id := range applied {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO applied_events (event_id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("import applied event: %w", err)
		}
	}
	return graph.MapErr(tx.Commit())
}

// AgentRow is the raw persisted form of one participant's aggregates,
// used by snapshots.
type AgentRow struct {
	ParticipantID    string     `json:"participant_id"`
	RequestsOut      int64      `json:"requests_out"`
	RequestsIn       int64      `json:"requests_in"`
	SuccessCount     int64      `json:"success_count"`
	FailureCount     int64      `json:"failure_count"`
	Latency          Welford    `json:"latency"`
	LastDelegationAt *time.Time `json:"last_delegation_at,omitempty"`
}
