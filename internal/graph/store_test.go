package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(dbPath, opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustUpsert(t *testing.T, s *Store, id, kind string) *Participant {
	t.Helper()
	p, err := s.UpsertParticipant(context.Background(), id, kind, "", "")
	if err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
	return p
}

func mustStart(t *testing.T, s *Store, id, contextID string) *Conversation {
	t.Helper()
	c, err := s.StartConversation(context.Background(), id, contextID, "booking")
	if err != nil {
		t.Fatalf("start conversation %s: %v", id, err)
	}
	return c
}

func TestUpsertParticipantMerge(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := s.UpsertParticipant(ctx, "flight-agent", "agent", "", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p.Kind != "agent" || !p.Active {
		t.Fatalf("unexpected participant: %+v", p)
	}

	// Second upsert merges non-empty fields and keeps the kind.
	p, err = s.UpsertParticipant(ctx, "flight-agent", "human", "Flight Agent", "http://flights:8080")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if p.Kind != "agent" {
		t.Fatalf("kind regressed to %q", p.Kind)
	}
	if p.DisplayName != "Flight Agent" || p.Endpoint != "http://flights:8080" {
		t.Fatalf("merge lost fields: %+v", p)
	}

	// Empty fields never erase committed values.
	p, err = s.UpsertParticipant(ctx, "flight-agent", "agent", "", "")
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if p.DisplayName != "Flight Agent" {
		t.Fatalf("empty upsert erased display name")
	}
}

func TestDeactivateParticipant(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustUpsert(t, s, "u1", "human")

	if err := s.DeactivateParticipant(ctx, "u1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	p, err := s.GetParticipant(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Active {
		t.Fatalf("expected inactive participant")
	}
	if err := s.DeactivateParticipant(ctx, "ghost"); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
}

func TestStartConversationDuplicate(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	mustStart(t, s, "c1", "ctx-1")

	// Same id + context is a benign no-op.
	c, err := s.StartConversation(ctx, "c1", "ctx-1", "other-intent")
	if err != nil {
		t.Fatalf("idempotent restart: %v", err)
	}
	if c.Intent != "booking" {
		t.Fatalf("restart must return the committed row, got intent %q", c.Intent)
	}

	// Same id, different context fails.
	if _, err := s.StartConversation(ctx, "c1", "ctx-2", ""); !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("expected ErrDuplicateConversation, got %v", err)
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.AppendMessage(context.Background(), "nope", Message{SenderID: "u1", Role: "user", Kind: "text"})
	if !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestAppendMessageOutOfOrderRejected(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustStart(t, s, "c1", "ctx-1")

	t0 := time.Now().UTC()
	if _, err := s.AppendMessage(ctx, "c1", Message{ID: "m1", SenderID: "u1", Role: "user", Kind: "text", Timestamp: t0}); err != nil {
		t.Fatalf("append m1: %v", err)
	}

	_, err := s.AppendMessage(ctx, "c1", Message{ID: "m2", SenderID: "u1", Role: "user", Kind: "text", Timestamp: t0.Add(-time.Second)})
	if !errors.Is(err, ErrOutOfOrderTimestamp) {
		t.Fatalf("expected ErrOutOfOrderTimestamp, got %v", err)
	}

	// Rejected message did not change the conversation.
	c, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if c.MessageCount != 1 {
		t.Fatalf("message count changed on rejection: %d", c.MessageCount)
	}
}

func TestAppendMessageOutOfOrderFlagged(t *testing.T) {
	s := newTestStore(t, Options{AcceptOutOfOrder: true})
	ctx := context.Background()
	mustStart(t, s, "c1", "ctx-1")

	t0 := time.Now().UTC()
	if _, err := s.AppendMessage(ctx, "c1", Message{ID: "m1", SenderID: "u1", Role: "user", Kind: "text", Timestamp: t0}); err != nil {
		t.Fatalf("append m1: %v", err)
	}
	m2, err := s.AppendMessage(ctx, "c1", Message{ID: "m2", SenderID: "u1", Role: "user", Kind: "text", Timestamp: t0.Add(-time.Second)})
	if err != nil {
		t.Fatalf("append flagged: %v", err)
	}
	if !m2.OutOfOrder {
		t.Fatalf("expected out_of_order flag")
	}

	// The straggler never moves last_message_at backwards.
	c, _ := s.GetConversation(ctx, "c1")
	if c.LastMessageAt == nil || c.LastMessageAt.Before(t0.Add(-time.Millisecond)) {
		t.Fatalf("last_message_at regressed: %v", c.LastMessageAt)
	}
	if c.MessageCount != 2 {
		t.Fatalf("expected 2 messages, got %d", c.MessageCount)
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustStart(t, s, "c1", "ctx-1")

	m := Message{ID: "m1", SenderID: "u1", Role: "user", Kind: "text", Timestamp: time.Now().UTC()}
	if _, err := s.AppendMessage(ctx, "c1", m); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, "c1", m); err != nil {
		t.Fatalf("retried append: %v", err)
	}
	c, _ := s.GetConversation(ctx, "c1")
	if c.MessageCount != 1 {
		t.Fatalf("retry double-counted: %d", c.MessageCount)
	}
}

func TestRecordDelegationSelf(t *testing.T) {
	s := newTestStore(t, Options{})
	mustUpsert(t, s, "triage-agent", "agent")

	_, err := s.RecordDelegation(context.Background(), DelegationParams{
		From: "triage-agent", To: "triage-agent", ConversationID: "c1", MessageID: "m1",
	})
	if !errors.Is(err, ErrSelfDelegation) {
		t.Fatalf("expected ErrSelfDelegation, got %v", err)
	}
}

func TestRecordDelegationUnknownParticipant(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustUpsert(t, s, "triage-agent", "agent")

	before, _ := s.GetOverview(ctx)
	_, err := s.RecordDelegation(ctx, DelegationParams{
		From: "triage-agent", To: "never-upserted", ConversationID: "c1", MessageID: "m1",
	})
	if !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}

	// Graph state unchanged.
	after, _ := s.GetOverview(ctx)
	if *after != *before {
		t.Fatalf("failed delegation mutated state: %+v vs %+v", before, after)
	}
	p, _ := s.GetParticipant(ctx, "triage-agent")
	if p.RequestsSent != 0 {
		t.Fatalf("requests_sent moved on failed delegation")
	}
}

func TestDelegationLifecycle(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustUpsert(t, s, "triage-agent", "agent")
	mustUpsert(t, s, "flight-agent", "agent")

	edge, err := s.RecordDelegation(ctx, DelegationParams{
		From: "triage-agent", To: "flight-agent", ConversationID: "c1", MessageID: "m1",
		Timestamp: time.Now().UTC(), EventID: "evt-1",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if edge.Outcome != "pending" {
		t.Fatalf("new edge not pending: %s", edge.Outcome)
	}

	// Retried event returns the same edge.
	dup, err := s.RecordDelegation(ctx, DelegationParams{
		From: "triage-agent", To: "flight-agent", ConversationID: "c1", MessageID: "m1",
		EventID: "evt-1",
	})
	if err != nil {
		t.Fatalf("retried record: %v", err)
	}
	if dup.ID != edge.ID {
		t.Fatalf("retry minted a new edge")
	}
	from, _ := s.GetParticipant(ctx, "triage-agent")
	if from.RequestsSent != 1 {
		t.Fatalf("retry double-counted requests_sent: %d", from.RequestsSent)
	}

	resolved, err := s.ResolveDelegation(ctx, edge.ID, "success", 120, "evt-2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Outcome != "success" || resolved.LatencyMs != 120 || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}

	if _, err := s.ResolveDelegation(ctx, edge.ID, "failure", 10, "evt-3"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if _, err := s.ResolveDelegation(ctx, "missing-edge", "success", 1, ""); !errors.Is(err, ErrUnknownEdge) {
		t.Fatalf("expected ErrUnknownEdge, got %v", err)
	}

	to, _ := s.GetParticipant(ctx, "flight-agent")
	if to.ResponsesSent != 1 {
		t.Fatalf("responses_sent = %d, want 1", to.ResponsesSent)
	}

	found, err := s.FindDelegationByMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("find by message: %v", err)
	}
	if found.ID != edge.ID {
		t.Fatalf("wrong edge by message id")
	}
}

func TestDelegationEventIDUniqueConstraint(t *testing.T) {
	s := newTestStore(t, Options{})
	mustUpsert(t, s, "triage-agent", "agent")
	mustUpsert(t, s, "flight-agent", "agent")
	mustStart(t, s, "c1", "ctx-1")

	// The constraint is what stops two concurrent deliveries of the same
	// event from minting two edges after both miss the dedup lookup, so
	// exercise it below the store API.
	insert := `
		INSERT INTO delegations (edge_id, from_id, to_id, conversation_id, message_id, timestamp, outcome, issued_event_id)
		VALUES (?, 'triage-agent', 'flight-agent', 'c1', ?, ?, 'pending', ?)`
	now := time.Now().UTC()
	if _, err := s.DB().Exec(insert, "edge-a", "m1", now, "dup-event"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.DB().Exec(insert, "edge-b", "m2", now, "dup-event"); err == nil {
		t.Fatal("second edge with the same issued_event_id committed")
	}

	// Edges recorded without an event id stay unconstrained.
	if _, err := s.DB().Exec(insert, "edge-c", "m3", now, ""); err != nil {
		t.Fatalf("insert without event id: %v", err)
	}
	if _, err := s.DB().Exec(insert, "edge-d", "m4", now, ""); err != nil {
		t.Fatalf("second insert without event id: %v", err)
	}

	// The store-level retry path still returns the committed edge.
	edge, err := s.RecordDelegation(context.Background(), DelegationParams{
		From: "triage-agent", To: "flight-agent", ConversationID: "c1",
		MessageID: "m1", Timestamp: now, EventID: "dup-event",
	})
	if err != nil {
		t.Fatalf("record with committed event id: %v", err)
	}
	if edge.ID != "edge-a" {
		t.Fatalf("redelivery minted a new edge: %+v", edge)
	}
}

func TestCloseConversation(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustStart(t, s, "c1", "ctx-1")

	c, err := s.CloseConversation(ctx, "c1", "completed")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.Status != "completed" || c.EndedAt == nil {
		t.Fatalf("unexpected close result: %+v", c)
	}
	if _, err := s.CloseConversation(ctx, "c1", "abandoned"); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	if _, err := s.CloseConversation(ctx, "nope", "completed"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestConversationTimelineOrder(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	mustStart(t, s, "c1", "ctx-1")

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, "c1", Message{
			SenderID: "u1", Role: "user", Kind: "text",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := s.ConversationTimeline(ctx, "c1", 0, 3)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("page size: got %d", len(msgs))
	}
	rest, err := s.ConversationTimeline(ctx, "c1", msgs[2].Seq, 10)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("second page size: got %d", len(rest))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("timeline not monotonic")
		}
	}
}

func TestPopularIntents(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	for i, intent := range []string{"flights", "flights", "hotels"} {
		if _, err := s.StartConversation(ctx, string(rune('a'+i)), "ctx", intent); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	intents, err := s.PopularIntents(ctx, 10)
	if err != nil {
		t.Fatalf("intents: %v", err)
	}
	if intents["flights"] != 2 || intents["hotels"] != 1 {
		t.Fatalf("unexpected intents: %v", intents)
	}
}
