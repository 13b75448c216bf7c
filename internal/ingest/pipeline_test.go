package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/convograph/convograph/internal/event"
	"github.com/convograph/convograph/internal/graph"
	"github.com/convograph/convograph/internal/stats"
)

func newTestPipeline(t *testing.T) (*Pipeline, *graph.Store, *stats.Engine) {
	t.Helper()
	store, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"), graph.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	engine, err := stats.NewEngine(store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return NewPipeline(store, engine), store, engine
}

// scenarioEvents walks one delegation to completion: user asks, the triage
// agent delegates to the flight agent, which succeeds after 120ms.
func scenarioEvents(t0 time.Time) []event.InteractionEvent {
	return []event.InteractionEvent{
		{Type: event.TypeParticipantRegistered, EventID: "e1", Timestamp: t0, ParticipantID: "u1", Kind: event.KindHuman, DisplayName: "User One"},
		{Type: event.TypeParticipantRegistered, EventID: "e2", Timestamp: t0, ParticipantID: "triage-agent", Kind: event.KindAgent, Endpoint: "http://triage:8080"},
		{Type: event.TypeParticipantRegistered, EventID: "e3", Timestamp: t0, ParticipantID: "flight-agent", Kind: event.KindAgent, Endpoint: "http://flights:8080"},
		{Type: event.TypeConversationStarted, EventID: "e4", Timestamp: t0, ConversationID: "c1", ContextID: "ctx-1", ParticipantID: "u1", Intent: "book-flight"},
		{Type: event.TypeMessageSent, EventID: "e5", Timestamp: t0.Add(time.Second), ConversationID: "c1", MessageID: "m1", ParticipantID: "u1", Role: event.RoleUser, Kind: event.MessageText, Content: "book me a flight"},
		{Type: event.TypeDelegationIssued, EventID: "e6", Timestamp: t0.Add(2 * time.Second), ConversationID: "c1", MessageID: "m1", ParticipantID: "triage-agent", TargetParticipantID: "flight-agent"},
		{Type: event.TypeDelegationResolved, EventID: "e7", Timestamp: t0.Add(3 * time.Second), MessageID: "m1", Outcome: event.OutcomeSuccess, LatencyMs: 120},
		{Type: event.TypeConversationEnded, EventID: "e8", Timestamp: t0.Add(4 * time.Second), ConversationID: "c1", Status: event.StatusCompleted},
	}
}

func TestPipelineScenario(t *testing.T) {
	p, store, engine := newTestPipeline(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	for _, e := range scenarioEvents(t0) {
		ev := e
		if err := p.Handle(ctx, &ev); err != nil {
			t.Fatalf("handle %s: %v", e.EventID, err)
		}
	}

	sc, err := engine.Scorecard(ctx, "flight-agent")
	if err != nil {
		t.Fatalf("scorecard: %v", err)
	}
	if sc.RequestsReceived != 1 || sc.SuccessRate != 1.0 || sc.MeanLatencyMs != 120 {
		t.Fatalf("unexpected scorecard: %+v", sc)
	}

	c, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if c.Status != "completed" || c.MessageCount != 1 {
		t.Fatalf("unexpected conversation: %+v", c)
	}
}

func TestPipelineReingestIdempotent(t *testing.T) {
	p, store, engine := newTestPipeline(t)
	ctx := context.Background()
	t0 := time.Now().UTC()
	events := scenarioEvents(t0)

	// Ingest everything three times; benign conflicts are expected, state
	// must match a single ingestion.
	for round := 0; round < 3; round++ {
		for _, e := range events {
			ev := e
			err := p.Handle(ctx, &ev)
			if err != nil && !isBenign(err) {
				t.Fatalf("round %d, handle %s: %v", round, e.EventID, err)
			}
		}
	}

	sc, _ := engine.Scorecard(ctx, "flight-agent")
	if sc.RequestsReceived != 1 || sc.ResolvedCount != 1 || sc.MeanLatencyMs != 120 {
		t.Fatalf("re-ingestion changed aggregates: %+v", sc)
	}
	c, _ := store.GetConversation(ctx, "c1")
	if c.MessageCount != 1 {
		t.Fatalf("re-ingestion duplicated messages: %d", c.MessageCount)
	}
	tr, _ := store.GetParticipant(ctx, "triage-agent")
	if tr.RequestsSent != 1 {
		t.Fatalf("re-ingestion moved requests_sent: %d", tr.RequestsSent)
	}
}

func TestPipelineDropsMalformed(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	err := p.Handle(context.Background(), &event.InteractionEvent{Type: event.TypeMessageSent, EventID: "bad"})
	if !errors.Is(err, event.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	err = p.Handle(context.Background(), &event.InteractionEvent{Type: "metrics_flush", EventID: "x"})
	if !errors.Is(err, event.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestPipelineCreatesSenderOnFirstMessage(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	events := []event.InteractionEvent{
		{Type: event.TypeConversationStarted, EventID: "e1", Timestamp: t0, ConversationID: "c1", ContextID: "ctx-1"},
		{Type: event.TypeMessageSent, EventID: "e2", Timestamp: t0.Add(time.Second), ConversationID: "c1",
			MessageID: "m1", ParticipantID: "walk-in-user", Role: event.RoleUser, Kind: event.MessageText},
		{Type: event.TypeMessageSent, EventID: "e3", Timestamp: t0.Add(2 * time.Second), ConversationID: "c1",
			MessageID: "m2", ParticipantID: "helper-agent", Role: event.RoleAgent, Kind: event.MessageText},
	}
	for _, e := range events {
		ev := e
		if err := p.Handle(ctx, &ev); err != nil {
			t.Fatalf("handle %s: %v", e.EventID, err)
		}
	}

	sender, err := store.GetParticipant(ctx, "walk-in-user")
	if err != nil {
		t.Fatalf("sender was never created: %v", err)
	}
	if sender.Kind != "human" {
		t.Fatalf("user-role sender kind = %q, want human", sender.Kind)
	}
	agent, err := store.GetParticipant(ctx, "helper-agent")
	if err != nil {
		t.Fatalf("agent sender was never created: %v", err)
	}
	if agent.Kind != "agent" {
		t.Fatalf("agent-role sender kind = %q, want agent", agent.Kind)
	}
}

func TestPipelineUnknownDelegationTarget(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()
	if _, err := store.UpsertParticipant(ctx, "triage-agent", "agent", "", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	err := p.Handle(ctx, &event.InteractionEvent{
		Type: event.TypeDelegationIssued, EventID: "e1", Timestamp: time.Now(),
		ConversationID: "c1", MessageID: "m1",
		ParticipantID: "triage-agent", TargetParticipantID: "phantom",
	})
	if !errors.Is(err, graph.ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
}

func TestBusConsumeCancellation(t *testing.T) {
	bus := NewEventBus(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := bus.Consume(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestBusPublishConsume(t *testing.T) {
	bus := NewEventBus(4)
	e := &event.InteractionEvent{Type: event.TypeMessageSent, EventID: "e1"}
	bus.Publish(e)
	if bus.Size() != 1 {
		t.Fatalf("size = %d", bus.Size())
	}
	got, err := bus.Consume(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.EventID != "e1" {
		t.Fatalf("wrong event: %+v", got)
	}
}

func TestReplayFile(t *testing.T) {
	p, _, engine := newTestPipeline(t)
	t0 := time.Now().UTC()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	var lines []byte
	for _, e := range scenarioEvents(t0) {
		b, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		lines = append(lines, b...)
		lines = append(lines, '\n')
	}
	if err := os.WriteFile(path, lines, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	n, err := ReplayFile(context.Background(), path, p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 8 {
		t.Fatalf("handled %d events, want 8", n)
	}
	sc, _ := engine.Scorecard(context.Background(), "flight-agent")
	if sc.SuccessRate != 1.0 {
		t.Fatalf("unexpected scorecard after replay: %+v", sc)
	}
}
