package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/convograph/convograph/internal/event"
	"github.com/convograph/convograph/internal/graph"
	"github.com/convograph/convograph/internal/stats"
)

// Pipeline validates events and commits them: graph store first, then the
// aggregation engine, keyed by event id so retried deliveries apply once.
type Pipeline struct {
	store  *graph.Store
	engine *stats.Engine
}

// NewPipeline wires the pipeline to its store and engine.
func NewPipeline(store *graph.Store, engine *stats.Engine) *Pipeline {
	return &Pipeline{store: store, engine: engine}
}

// Run consumes the bus until the context is cancelled. Malformed events
// are logged and dropped; benign idempotency conflicts are logged at
// debug; everything else is logged and the loop keeps going so a poisoned
// event cannot stall ingestion.
func (p *Pipeline) Run(ctx context.Context, bus *EventBus) error {
	slog.Info("ingest pipeline started")
	for {
		e, err := bus.Consume(ctx)
		if err != nil {
			return err
		}
		if err := p.Handle(ctx, e); err != nil {
			switch {
			case errors.Is(err, event.ErrMalformed), errors.Is(err, event.ErrUnsupportedType):
				slog.Warn("dropping invalid event", "event_id", e.EventID, "type", e.Type, "error", err)
			case isBenign(err):
				slog.Debug("benign event conflict", "event_id", e.EventID, "error", err)
			default:
				slog.Error("failed to commit event", "event_id", e.EventID, "type", e.Type, "error", err)
			}
		}
	}
}

// isBenign reports idempotency-guard errors that retrying callers expect.
func isBenign(err error) bool {
	return errors.Is(err, graph.ErrAlreadyResolved) ||
		errors.Is(err, graph.ErrAlreadyClosed) ||
		errors.Is(err, graph.ErrDuplicateConversation)
}

// Handle validates, normalizes and commits a single event.
func (p *Pipeline) Handle(ctx context.Context, e *event.InteractionEvent) error {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return err
	}

	switch e.Type {
	case event.TypeParticipantRegistered:
		_, err := p.store.UpsertParticipant(ctx, e.ParticipantID, e.Kind, e.DisplayName, e.Endpoint)
		return err

	case event.TypeConversationStarted:
		// The original tracker auto-creates the initiating user, so a
		// start event may reference a participant the orchestrator never
		// registered explicitly.
		if e.ParticipantID != "" {
			kind := e.Kind
			if kind == "" {
				kind = event.KindHuman
			}
			if _, err := p.store.UpsertParticipant(ctx, e.ParticipantID, kind, e.DisplayName, ""); err != nil {
				return err
			}
		}
		_, err := p.store.StartConversation(ctx, e.ConversationID, e.ContextID, e.Intent)
		return err

	case event.TypeConversationEnded:
		_, err := p.store.CloseConversation(ctx, e.ConversationID, e.Status)
		return err

	case event.TypeMessageSent:
		// Senders are created on first reference, like conversation
		// initiators; the role tells us which kind to mint.
		kind := event.KindHuman
		if e.Role == event.RoleAgent {
			kind = event.KindAgent
		}
		if _, err := p.store.UpsertParticipant(ctx, e.ParticipantID, kind, "", ""); err != nil {
			return err
		}
		_, err := p.store.AppendMessage(ctx, e.ConversationID, graph.Message{
			ID:             e.MessageID,
			SenderID:       e.ParticipantID,
			Role:           e.Role,
			Kind:           e.Kind,
			Content:        e.Content,
			Timestamp:      e.Timestamp,
			CorrelatesWith: e.CorrelatesWith,
			LatencyMs:      e.LatencyMs,
		})
		return err

	case event.TypeDelegationIssued:
		edge, err := p.store.RecordDelegation(ctx, graph.DelegationParams{
			From:           e.ParticipantID,
			To:             e.TargetParticipantID,
			ConversationID: e.ConversationID,
			MessageID:      e.MessageID,
			Timestamp:      e.Timestamp,
			EventID:        e.EventID,
		})
		if err != nil {
			return err
		}
		return p.engine.ApplyDelegationIssued(ctx, e.EventID, edge)

	case event.TypeDelegationResolved:
		edge, err := p.store.FindDelegationByMessage(ctx, e.MessageID)
		if err != nil {
			return err
		}
		resolved, err := p.store.ResolveDelegation(ctx, edge.ID, e.Outcome, e.LatencyMs, e.EventID)
		if errors.Is(err, graph.ErrAlreadyResolved) {
			// The store already settled this edge; the aggregates may
			// still be behind if the process died between the two
			// commits, so re-apply with the recorded resolution.
			if edge.ResolvedEventID != "" {
				return p.engine.ApplyDelegationResolved(ctx, edge.ResolvedEventID, edge)
			}
			return err
		}
		if err != nil {
			return err
		}
		return p.engine.ApplyDelegationResolved(ctx, e.EventID, resolved)

	default:
		return fmt.Errorf("%w: %q", event.ErrUnsupportedType, e.Type)
	}
}
