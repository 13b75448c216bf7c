// Package query is the read-only composition layer over the graph store
// and the aggregation engine. It performs no writes.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/convograph/convograph/internal/graph"
	"github.com/convograph/convograph/internal/routing"
	"github.com/convograph/convograph/internal/stats"
)

// MaxPageSize caps every paged response.
const MaxPageSize = 500

// Service composes store and engine reads for external callers.
type Service struct {
	store   *graph.Store
	engine  *stats.Engine
	routing routing.Config
	now     func() time.Time
}

// NewService creates the query service. A zero routing config falls back
// to the defaults.
func NewService(store *graph.Store, engine *stats.Engine, cfg routing.Config) *Service {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = routing.DefaultConfig().HalfLife
	}
	if cfg.NeutralPrior <= 0 {
		cfg.NeutralPrior = routing.DefaultConfig().NeutralPrior
	}
	return &Service{store: store, engine: engine, routing: cfg, now: time.Now}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// TimelinePage is one page of a conversation's committed messages.
type TimelinePage struct {
	Conversation *graph.Conversation `json:"conversation"`
	Messages     []graph.Message     `json:"messages"`
	NextCursor   string              `json:"next_cursor,omitempty"`
}

// ConversationTimeline returns messages in commit order, paged.
func (s *Service) ConversationTimeline(ctx context.Context, conversationID string, limit int, cursor string) (*TimelinePage, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ConversationTimeline(ctx, conversationID, after, limit)
	if err != nil {
		return nil, err
	}
	page := &TimelinePage{Conversation: c, Messages: msgs}
	if len(msgs) == limit {
		page.NextCursor = encodeCursor(msgs[len(msgs)-1].Seq)
	}
	return page, nil
}

// ScorecardView joins a participant's identity with its aggregates.
type ScorecardView struct {
	Participant *graph.Participant `json:"participant"`
	Scorecard   *stats.Scorecard   `json:"scorecard"`
}

// AgentScorecard returns the aggregate counters for one participant.
func (s *Service) AgentScorecard(ctx context.Context, participantID string) (*ScorecardView, error) {
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	sc, err := s.engine.Scorecard(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return &ScorecardView{Participant: p, Scorecard: sc}, nil
}

// CollaborationPage is one page of the collaboration graph.
type CollaborationPage struct {
	Pairs      []stats.PairStat `json:"pairs"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// CollaborationGraph returns ordered pairs with at least minCount
// delegations, paged.
func (s *Service) CollaborationGraph(ctx context.Context, minCount int64, limit int, cursor string) (*CollaborationPage, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	pairs, err := s.engine.CollaborationPairs(ctx, minCount, int(offset), limit)
	if err != nil {
		return nil, err
	}
	page := &CollaborationPage{Pairs: pairs}
	if len(pairs) == limit {
		page.NextCursor = encodeCursor(offset + int64(limit))
	}
	return page, nil
}

// RouteRecommendation ranks candidate agents for a delegation from the
// requesting participant. The requester itself is excluded from the
// candidate set, and unknown candidates fail loudly rather than scoring
// as new agents.
func (s *Service) RouteRecommendation(ctx context.Context, from string, candidateIDs []string) ([]routing.Recommendation, error) {
	if len(candidateIDs) == 0 {
		return nil, fmt.Errorf("%w: empty candidate set", graph.ErrUnknownParticipant)
	}
	candidates := make([]routing.Candidate, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if id == from {
			continue
		}
		if _, err := s.store.GetParticipant(ctx, id); err != nil {
			return nil, err
		}
		sc, err := s.engine.Scorecard(ctx, id)
		if err != nil {
			return nil, err
		}
		c := routing.Candidate{
			ID:              id,
			SuccessRate:     sc.SuccessRate,
			MeanLatencyMs:   sc.MeanLatencyMs,
			LatencyVariance: sc.LatencyVariance,
			ResolvedCount:   sc.ResolvedCount,
		}
		if sc.LastDelegationAt != nil {
			c.LastDelegationAt = *sc.LastDelegationAt
		}
		candidates = append(candidates, c)
	}
	return routing.Rank(s.now(), s.routing, candidates), nil
}

// PopularIntents returns the most frequent conversation intents.
func (s *Service) PopularIntents(ctx context.Context, limit int) (map[string]int64, error) {
	return s.store.PopularIntents(ctx, clampLimit(limit))
}

// Overview returns store-wide analytics totals.
func (s *Service) Overview(ctx context.Context) (*graph.Overview, error) {
	return s.store.GetOverview(ctx)
}
