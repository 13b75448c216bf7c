// Package graph owns the conversation graph: participants, conversations,
// messages and delegation edges, persisted in an embedded SQLite database.
// The store enforces referential integrity and lifecycle invariants; it
// carries no scoring or aggregation logic.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Options control store behaviour.
type Options struct {
	// AcceptOutOfOrder switches AppendMessage from rejecting out-of-order
	// timestamps to accepting them flagged. Default is rejection.
	AcceptOutOfOrder bool
}

// Store is the single writer for all graph entities. All mutating
// operations are transactional; SQLite's WAL mode plus busy_timeout bound
// lock waits, surfaced to callers as ErrBusy.
type Store struct {
	db   *sql.DB
	opts Options
}

// Open opens (or creates) the graph database at path and applies the schema.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open graph db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for databases created before event-id
	// bookkeeping was added to delegation edges.
	_, _ = db.Exec(`ALTER TABLE delegations ADD COLUMN issued_event_id TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE delegations ADD COLUMN resolved_event_id TEXT DEFAULT ''`)
	// Created after the migrations so older databases have the column.
	// One ingestion event mints at most one edge, even under concurrent
	// redelivery; edges recorded without an event id stay unconstrained.
	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_delegations_issued_event
		ON delegations(issued_event_id) WHERE issued_event_id != ''`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, opts: opts}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so the aggregation engine can keep its
// derived tables in the same database and share transactions with replay.
func (s *Store) DB() *sql.DB {
	return s.db
}

// mapErr is MapErr, kept short for the store's own call sites.
func mapErr(err error) error {
	return MapErr(err)
}

// DelegationParams carries everything needed to record a delegation edge.
// EventID ties the edge back to the ingestion event for apply-once
// aggregation; it may be empty for direct API callers.
type DelegationParams struct {
	From           string
	To             string
	ConversationID string
	MessageID      string
	Timestamp      time.Time
	EventID        string
}

// UpsertParticipant creates the participant on first reference and merges
// non-empty fields afterwards. Kind is fixed at creation and never changes
// on later upserts.
func (s *Store) UpsertParticipant(ctx context.Context, id, kind, displayName, endpoint string) (*Participant, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty participant id", ErrUnknownParticipant)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, kind, display_name, endpoint, active, last_seen, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE display_name END,
			endpoint = CASE WHEN excluded.endpoint != '' THEN excluded.endpoint ELSE endpoint END,
			last_seen = excluded.last_seen`,
		id, kind, displayName, endpoint, now, now)
	if err != nil {
		return nil, mapErr(fmt.Errorf("upsert participant: %w", err))
	}
	return s.GetParticipant(ctx, id)
}

// DeactivateParticipant marks a participant inactive. Identity and history
// are retained.
func (s *Store) DeactivateParticipant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return mapErr(fmt.Errorf("deactivate participant: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return nil
}

// GetParticipant returns the participant by id.
func (s *Store) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	var p Participant
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, display_name, endpoint, requests_sent, responses_sent, active, last_seen, created_at
		FROM participants WHERE id = ?`, id).Scan(
		&p.ID, &p.Kind, &p.DisplayName, &p.Endpoint, &p.RequestsSent, &p.ResponsesSent, &p.Active, &lastSeen, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("get participant: %w", err))
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeen = &t
	}
	return &p, nil
}

// StartConversation creates a conversation. Re-starting an existing id with
// the same context is a benign no-op returning the committed row; a
// different context fails with ErrDuplicateConversation.
func (s *Store) StartConversation(ctx context.Context, id, contextID, intent string) (*Conversation, error) {
	if id == "" || contextID == "" {
		return nil, fmt.Errorf("%w: empty conversation or context id", ErrUnknownConversation)
	}
	existing, err := s.GetConversation(ctx, id)
	if err == nil {
		if existing.ContextID != contextID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateConversation, id)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrUnknownConversation) {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, context_id, status, intent, started_at)
		VALUES (?, ?, 'active', ?, ?)`,
		id, contextID, intent, time.Now().UTC())
	if err != nil {
		return nil, mapErr(fmt.Errorf("start conversation: %w", err))
	}
	return s.GetConversation(ctx, id)
}

// GetConversation returns the conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, context_id, status, intent, message_count, started_at, ended_at, last_message_at
		FROM conversations WHERE id = ?`, id), id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner, id string) (*Conversation, error) {
	var c Conversation
	var ended, lastMsg sql.NullTime
	err := row.Scan(&c.ID, &c.ContextID, &c.Status, &c.Intent, &c.MessageCount, &c.StartedAt, &ended, &lastMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("get conversation: %w", err))
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	if lastMsg.Valid {
		t := lastMsg.Time
		c.LastMessageAt = &t
	}
	return &c, nil
}

// AppendMessage commits a message to its conversation. The conversation
// must exist; a timestamp earlier than the conversation's latest committed
// message either fails with ErrOutOfOrderTimestamp (default) or is
// accepted flagged, per Options. The message insert and the conversation
// counter update are one transaction, so readers never see one without
// the other.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, m Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.Timestamp = m.Timestamp.UTC()
	m.ConversationID = conversationID

	// Retried deliveries of an already-committed message are benign no-ops.
	if existing, err := s.getMessage(ctx, m.ID); err == nil {
		return existing, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var lastMsg sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT last_message_at FROM conversations WHERE id = ?`, conversationID).Scan(&lastMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("lookup conversation: %w", err))
	}

	if lastMsg.Valid && m.Timestamp.Before(lastMsg.Time) {
		if !s.opts.AcceptOutOfOrder {
			return nil, fmt.Errorf("%w: %s before %s", ErrOutOfOrderTimestamp,
				m.Timestamp.Format(time.RFC3339Nano), lastMsg.Time.Format(time.RFC3339Nano))
		}
		m.OutOfOrder = true
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, sender_id, role, kind, content, timestamp, correlates_with, latency_ms, out_of_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, m.SenderID, m.Role, m.Kind, m.Content, m.Timestamp, m.CorrelatesWith, m.LatencyMs, m.OutOfOrder)
	if err != nil {
		return nil, mapErr(fmt.Errorf("insert message: %w", err))
	}
	m.Seq, _ = res.LastInsertId()

	// last_message_at tracks the latest committed timestamp, not the last
	// insert, so flagged stragglers never move it backwards.
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET
			message_count = message_count + 1,
			last_message_at = CASE WHEN last_message_at IS NULL OR last_message_at < ? THEN ? ELSE last_message_at END
		WHERE id = ?`,
		m.Timestamp, m.Timestamp, conversationID)
	if err != nil {
		return nil, mapErr(fmt.Errorf("update conversation: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(fmt.Errorf("commit message: %w", err))
	}
	return &m, nil
}

// RecordDelegation creates a pending delegation edge. Both endpoints must
// have been upserted and must be distinct. The issuing participant's
// requests_sent counter moves in the same transaction.
func (s *Store) RecordDelegation(ctx context.Context, p DelegationParams) (*DelegationEdge, error) {
	if p.From == p.To {
		return nil, fmt.Errorf("%w: %s", ErrSelfDelegation, p.From)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	// A retry of the same ingestion event returns the committed edge
	// instead of minting a duplicate.
	if p.EventID != "" {
		edge, err := scanEdge(s.db.QueryRowContext(ctx, selectEdge+` WHERE issued_event_id = ?`, p.EventID), p.EventID)
		if err == nil {
			return edge, nil
		}
		if !errors.Is(err, ErrUnknownEdge) {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	for _, id := range []string{p.From, p.To} {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM participants WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
		}
		if err != nil {
			return nil, mapErr(fmt.Errorf("lookup participant: %w", err))
		}
	}

	edge := DelegationEdge{
		ID:             uuid.NewString(),
		From:           p.From,
		To:             p.To,
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		Timestamp:      p.Timestamp.UTC(),
		Outcome:        "pending",
		IssuedEventID:  p.EventID,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO delegations (edge_id, from_id, to_id, conversation_id, message_id, timestamp, outcome, issued_event_id)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
		edge.ID, edge.From, edge.To, edge.ConversationID, edge.MessageID, edge.Timestamp, edge.IssuedEventID)
	if err != nil {
		// A concurrent delivery of the same event won the insert between
		// our dedup lookup and here; return its committed edge.
		if edge.IssuedEventID != "" && strings.Contains(err.Error(), "issued_event_id") {
			if existing, lookupErr := scanEdge(s.db.QueryRowContext(ctx,
				selectEdge+` WHERE issued_event_id = ?`, edge.IssuedEventID), edge.IssuedEventID); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, mapErr(fmt.Errorf("insert delegation: %w", err))
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE participants SET requests_sent = requests_sent + 1, last_seen = ? WHERE id = ?`,
		edge.Timestamp, edge.From)
	if err != nil {
		return nil, mapErr(fmt.Errorf("update requester: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(fmt.Errorf("commit delegation: %w", err))
	}
	return &edge, nil
}

// ResolveDelegation settles a pending edge exactly once.
func (s *Store) ResolveDelegation(ctx context.Context, edgeID, outcome string, latencyMs int64, eventID string) (*DelegationEdge, error) {
	if outcome != "success" && outcome != "failure" {
		return nil, fmt.Errorf("%w: outcome %q", ErrUnknownEdge, outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	edge, err := scanEdge(tx.QueryRowContext(ctx, selectEdge+` WHERE edge_id = ?`, edgeID), edgeID)
	if err != nil {
		return nil, err
	}
	if edge.Outcome != "pending" {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, edgeID, edge.Outcome)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE delegations SET outcome = ?, latency_ms = ?, resolved_at = ?, resolved_event_id = ?
		WHERE edge_id = ?`,
		outcome, latencyMs, now, eventID, edgeID)
	if err != nil {
		return nil, mapErr(fmt.Errorf("resolve delegation: %w", err))
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE participants SET responses_sent = responses_sent + 1, last_seen = ? WHERE id = ?`,
		now, edge.To)
	if err != nil {
		return nil, mapErr(fmt.Errorf("update responder: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(fmt.Errorf("commit resolution: %w", err))
	}
	edge.Outcome = outcome
	edge.LatencyMs = latencyMs
	edge.ResolvedAt = &now
	edge.ResolvedEventID = eventID
	return edge, nil
}

func (s *Store) getMessage(ctx context.Context, messageID string) (*Message, error) {
	var m Message
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, message_id, conversation_id, sender_id, role, kind, content, timestamp, correlates_with, latency_ms, out_of_order
		FROM messages WHERE message_id = ?`, messageID).Scan(
		&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Role, &m.Kind,
		&m.Content, &m.Timestamp, &m.CorrelatesWith, &m.LatencyMs, &m.OutOfOrder)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindDelegationByMessage returns the edge recorded for a delegation
// request message. Used by the pipeline, which correlates resolutions by
// message id rather than edge id.
func (s *Store) FindDelegationByMessage(ctx context.Context, messageID string) (*DelegationEdge, error) {
	return scanEdge(s.db.QueryRowContext(ctx, selectEdge+` WHERE message_id = ? ORDER BY seq DESC LIMIT 1`, messageID), messageID)
}

// GetDelegation returns the edge by id.
func (s *Store) GetDelegation(ctx context.Context, edgeID string) (*DelegationEdge, error) {
	return scanEdge(s.db.QueryRowContext(ctx, selectEdge+` WHERE edge_id = ?`, edgeID), edgeID)
}

const selectEdge = `
	SELECT edge_id, from_id, to_id, conversation_id, message_id, timestamp, outcome, latency_ms, resolved_at, issued_event_id, resolved_event_id
	FROM delegations`

func scanEdge(row rowScanner, id string) (*DelegationEdge, error) {
	var e DelegationEdge
	var resolved sql.NullTime
	err := row.Scan(&e.ID, &e.From, &e.To, &e.ConversationID, &e.MessageID, &e.Timestamp,
		&e.Outcome, &e.LatencyMs, &resolved, &e.IssuedEventID, &e.ResolvedEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEdge, id)
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("get delegation: %w", err))
	}
	if resolved.Valid {
		t := resolved.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

// CloseConversation transitions a conversation to completed or abandoned,
// exactly once.
func (s *Store) CloseConversation(ctx context.Context, id, status string) (*Conversation, error) {
	if status != "completed" && status != "abandoned" {
		return nil, fmt.Errorf("%w: status %q", ErrUnknownConversation, status)
	}
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != "active" {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyClosed, id, c.Status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, ended_at = ? WHERE id = ? AND status = 'active'`,
		status, now, id)
	if err != nil {
		return nil, mapErr(fmt.Errorf("close conversation: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race with a concurrent close.
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, id)
	}
	c.Status = status
	c.EndedAt = &now
	return c, nil
}

// ConversationTimeline returns the committed messages of a conversation in
// commit order, paged by (afterSeq, limit).
func (s *Store) ConversationTimeline(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, message_id, conversation_id, sender_id, role, kind, content, timestamp, correlates_with, latency_ms, out_of_order
		FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		conversationID, afterSeq, limit)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query timeline: %w", err))
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Role, &m.Kind,
			&m.Content, &m.Timestamp, &m.CorrelatesWith, &m.LatencyMs, &m.OutOfOrder); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDelegationsBetween returns edges from one participant to another in
// commit order.
func (s *Store) ListDelegationsBetween(ctx context.Context, from, to string, limit int) ([]DelegationEdge, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectEdge+` WHERE from_id = ? AND to_id = ? ORDER BY seq LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query delegations: %w", err))
	}
	defer rows.Close()
	return collectEdges(rows)
}

// ListDelegations walks every edge in commit order, paged by (afterSeq,
// limit). Replay and snapshot export are built on it.
func (s *Store) ListDelegations(ctx context.Context, afterSeq int64, limit int) ([]DelegationEdge, int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, edge_id, from_id, to_id, conversation_id, message_id, timestamp, outcome, latency_ms, resolved_at, issued_event_id, resolved_event_id
		FROM delegations WHERE seq > ? ORDER BY seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, 0, mapErr(fmt.Errorf("query delegations: %w", err))
	}
	defer rows.Close()

	var out []DelegationEdge
	last := afterSeq
	for rows.Next() {
		var e DelegationEdge
		var resolved sql.NullTime
		if err := rows.Scan(&last, &e.ID, &e.From, &e.To, &e.ConversationID, &e.MessageID, &e.Timestamp,
			&e.Outcome, &e.LatencyMs, &resolved, &e.IssuedEventID, &e.ResolvedEventID); err != nil {
			return nil, 0, fmt.Errorf("scan delegation: %w", err)
		}
		if resolved.Valid {
			t := resolved.Time
			e.ResolvedAt = &t
		}
		out = append(out, e)
	}
	return out, last, rows.Err()
}

func collectEdges(rows *sql.Rows) ([]DelegationEdge, error) {
	var out []DelegationEdge
	for rows.Next() {
		var e DelegationEdge
		var resolved sql.NullTime
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.ConversationID, &e.MessageID, &e.Timestamp,
			&e.Outcome, &e.LatencyMs, &resolved, &e.IssuedEventID, &e.ResolvedEventID); err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		if resolved.Valid {
			t := resolved.Time
			e.ResolvedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListParticipants returns all participants ordered by id.
func (s *Store) ListParticipants(ctx context.Context) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, display_name, endpoint, requests_sent, responses_sent, active, last_seen, created_at
		FROM participants ORDER BY id`)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query participants: %w", err))
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var lastSeen sql.NullTime
		if err := rows.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Endpoint, &p.RequestsSent,
			&p.ResponsesSent, &p.Active, &lastSeen, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			p.LastSeen = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListConversations returns all conversations ordered by start time.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, status, intent, message_count, started_at, ended_at, last_message_at
		FROM conversations ORDER BY started_at, id`)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query conversations: %w", err))
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var ended, lastMsg sql.NullTime
		if err := rows.Scan(&c.ID, &c.ContextID, &c.Status, &c.Intent, &c.MessageCount, &c.StartedAt, &ended, &lastMsg); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			c.EndedAt = &t
		}
		if lastMsg.Valid {
			t := lastMsg.Time
			c.LastMessageAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMessages returns all messages in commit order. Snapshot export only.
func (s *Store) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, message_id, conversation_id, sender_id, role, kind, content, timestamp, correlates_with, latency_ms, out_of_order
		FROM messages ORDER BY seq`)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Role, &m.Kind,
			&m.Content, &m.Timestamp, &m.CorrelatesWith, &m.LatencyMs, &m.OutOfOrder); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PopularIntents returns the most frequent conversation intents.
func (s *Store) PopularIntents(ctx context.Context, limit int) (map[string]int64, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent, COUNT(*) FROM conversations
		WHERE intent != '' GROUP BY intent ORDER BY COUNT(*) DESC, intent LIMIT ?`, limit)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query intents: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var intent string
		var n int64
		if err := rows.Scan(&intent, &n); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		out[intent] = n
	}
	return out, rows.Err()
}

// Overview holds whole-store conversation analytics.
type Overview struct {
	TotalParticipants  int64   `json:"total_participants"`
	TotalConversations int64   `json:"total_conversations"`
	TotalMessages      int64   `json:"total_messages"`
	TotalDelegations   int64   `json:"total_delegations"`
	AvgDurationSecs    float64 `json:"avg_duration_secs"`
}

// GetOverview returns store-wide totals plus the mean duration of closed
// conversations.
func (s *Store) GetOverview(ctx context.Context) (*Overview, error) {
	var o Overview
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&o.TotalParticipants)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&o.TotalConversations)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&o.TotalMessages)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delegations`).Scan(&o.TotalDelegations)
	_ = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG((julianday(ended_at) - julianday(started_at)) * 86400), 0)
		FROM conversations WHERE ended_at IS NOT NULL`).Scan(&o.AvgDurationSecs)
	return &o, nil
}
