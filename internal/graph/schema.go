package graph

import (
	"time"
)

// Participant is a human or agent identity. Created on first reference,
// deactivated rather than deleted. The lifetime counters are maintained by
// the store inside the same transaction as the mutation that moves them.
type Participant struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"` // human | agent
	DisplayName   string     `json:"display_name,omitempty"`
	Endpoint      string     `json:"endpoint,omitempty"` // agents only
	RequestsSent  int64      `json:"requests_sent"`
	ResponsesSent int64      `json:"responses_sent"`
	Active        bool       `json:"active"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Conversation is a bounded session of related messages sharing a context.
type Conversation struct {
	ID            string     `json:"id"`
	ContextID     string     `json:"context_id"`
	Status        string     `json:"status"` // active | completed | abandoned
	Intent        string     `json:"intent,omitempty"`
	MessageCount  int64      `json:"message_count"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Message belongs to exactly one conversation. Seq is the commit order
// within the store; OutOfOrder marks messages accepted under the
// accept-and-flag policy.
type Message struct {
	Seq            int64     `json:"seq"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Role           string    `json:"role"` // user | agent
	Kind           string    `json:"kind"` // text | delegation_request | delegation_response
	Content        string    `json:"content,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	CorrelatesWith string    `json:"correlates_with,omitempty"`
	LatencyMs      int64     `json:"latency_ms,omitempty"`
	OutOfOrder     bool      `json:"out_of_order,omitempty"`
}

// DelegationEdge is a directed request from one participant to another.
// The issue/resolve event ids make aggregate replay reproduce the exact
// apply-once bookkeeping of the incremental path.
type DelegationEdge struct {
	ID              string     `json:"id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	ConversationID  string     `json:"conversation_id"`
	MessageID       string     `json:"message_id"`
	Timestamp       time.Time  `json:"timestamp"`
	Outcome         string     `json:"outcome"` // pending | success | failure
	LatencyMs       int64      `json:"latency_ms,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	IssuedEventID   string     `json:"issued_event_id,omitempty"`
	ResolvedEventID string     `json:"resolved_event_id,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS participants (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	display_name TEXT DEFAULT '',
	endpoint TEXT DEFAULT '',
	requests_sent INTEGER NOT NULL DEFAULT 0,
	responses_sent INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT 1,
	last_seen DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_participants_kind ON participants(kind);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	context_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	intent TEXT DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	last_message_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_conversations_context ON conversations(context_id);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE NOT NULL,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	role TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'text',
	content TEXT DEFAULT '',
	timestamp DATETIME NOT NULL,
	correlates_with TEXT DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	out_of_order BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

CREATE TABLE IF NOT EXISTS delegations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	edge_id TEXT UNIQUE NOT NULL,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	outcome TEXT NOT NULL DEFAULT 'pending',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	resolved_at DATETIME,
	issued_event_id TEXT DEFAULT '',
	resolved_event_id TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_delegations_from ON delegations(from_id);
CREATE INDEX IF NOT EXISTS idx_delegations_to ON delegations(to_id);
CREATE INDEX IF NOT EXISTS idx_delegations_pair ON delegations(from_id, to_id);
CREATE INDEX IF NOT EXISTS idx_delegations_message ON delegations(message_id);
CREATE INDEX IF NOT EXISTS idx_delegations_outcome ON delegations(outcome);
`
