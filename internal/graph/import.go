package graph

import (
	"context"
	"fmt"
)

// Snapshot import path. Exported rows are written back verbatim, keeping
// committed timestamps, counters and lifecycle state, so an export taken
// after a restore matches the original. Rows that already exist are left
// untouched.

// ImportParticipant writes a participant row exactly as exported.
func (s *Store) ImportParticipant(ctx context.Context, p Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, kind, display_name, endpoint, requests_sent, responses_sent, active, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Kind, p.DisplayName, p.Endpoint, p.RequestsSent, p.ResponsesSent, p.Active, p.LastSeen, p.CreatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("import participant %s: %w", p.ID, err))
	}
	return nil
}

// ImportConversation writes a conversation row exactly as exported,
// including its lifecycle status and message bookkeeping.
func (s *Store) ImportConversation(ctx context.Context, c Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, context_id, status, intent, message_count, started_at, ended_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, c.ContextID, c.Status, c.Intent, c.MessageCount, c.StartedAt, c.EndedAt, c.LastMessageAt)
	if err != nil {
		return mapErr(fmt.Errorf("import conversation %s: %w", c.ID, err))
	}
	return nil
}

// ImportMessage writes a message row exactly as exported. Commit order is
// the caller's export order; out-of-order flags are carried over rather
// than re-evaluated.
func (s *Store) ImportMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, sender_id, role, kind, content, timestamp, correlates_with, latency_ms, out_of_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		m.ID, m.ConversationID, m.SenderID, m.Role, m.Kind, m.Content, m.Timestamp, m.CorrelatesWith, m.LatencyMs, m.OutOfOrder)
	if err != nil {
		return mapErr(fmt.Errorf("import message %s: %w", m.ID, err))
	}
	return nil
}

// ImportDelegation writes a delegation edge exactly as exported, with its
// resolution state and event-id bookkeeping intact.
func (s *Store) ImportDelegation(ctx context.Context, e DelegationEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delegations (edge_id, from_id, to_id, conversation_id, message_id, timestamp, outcome, latency_ms, resolved_at, issued_event_id, resolved_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(edge_id) DO NOTHING`,
		e.ID, e.From, e.To, e.ConversationID, e.MessageID, e.Timestamp, e.Outcome, e.LatencyMs, e.ResolvedAt, e.IssuedEventID, e.ResolvedEventID)
	if err != nil {
		return mapErr(fmt.Errorf("import delegation %s: %w", e.ID, err))
	}
	return nil
}
