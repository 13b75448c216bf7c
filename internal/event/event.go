// Package event defines the interaction events consumed by the graph core.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of interaction an event describes.
type Type string

const (
	TypeParticipantRegistered Type = "participant_registered"
	TypeConversationStarted   Type = "conversation_started"
	TypeConversationEnded     Type = "conversation_ended"
	TypeMessageSent           Type = "message_sent"
	TypeDelegationIssued      Type = "delegation_issued"
	TypeDelegationResolved    Type = "delegation_resolved"
)

// Participant kinds.
const (
	KindHuman = "human"
	KindAgent = "agent"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message kinds.
const (
	MessageText               = "text"
	MessageDelegationRequest  = "delegation_request"
	MessageDelegationResponse = "delegation_response"
)

// Delegation outcomes.
const (
	OutcomePending = "pending"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Conversation statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

var (
	// ErrMalformed indicates a required field is missing or ill-formed.
	// Malformed events are dropped by the pipeline, never retried.
	ErrMalformed = errors.New("malformed event")
	// ErrUnsupportedType indicates an event type the core does not know.
	ErrUnsupportedType = errors.New("unsupported event type")
)

// InteractionEvent is the flat envelope emitted by the orchestration layer.
// Each type uses only a subset of the fields; Validate enforces which.
// After normalization an event is treated as immutable.
type InteractionEvent struct {
	Type                Type      `json:"type"`
	EventID             string    `json:"event_id"`
	Timestamp           time.Time `json:"timestamp"`
	ConversationID      string    `json:"conversation_id,omitempty"`
	ContextID           string    `json:"context_id,omitempty"`
	ParticipantID       string    `json:"participant_id,omitempty"`
	TargetParticipantID string    `json:"target_participant_id,omitempty"`
	MessageID           string    `json:"message_id,omitempty"`
	Role                string    `json:"role,omitempty"`
	Kind                string    `json:"kind,omitempty"`
	Intent              string    `json:"intent,omitempty"`
	Status              string    `json:"status,omitempty"`
	Outcome             string    `json:"outcome,omitempty"`
	LatencyMs           int64     `json:"latency_ms,omitempty"`
	CorrelatesWith      string    `json:"correlates_with,omitempty"`
	Content             string    `json:"content,omitempty"`
	DisplayName         string    `json:"display_name,omitempty"`
	Endpoint            string    `json:"endpoint,omitempty"`
}

// Normalize fills in a generated event id when absent and forces the
// timestamp to UTC (now, when unset). It never touches referential fields.
func (e *InteractionEvent) Normalize() {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	} else {
		e.Timestamp = e.Timestamp.UTC()
	}
}

// Validate checks required-field presence for the event's type. It is pure:
// no store access, no mutation. Errors wrap ErrMalformed or
// ErrUnsupportedType.
func (e *InteractionEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: missing event_id", ErrMalformed)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	switch e.Type {
	case TypeParticipantRegistered:
		if e.ParticipantID == "" {
			return fmt.Errorf("%w: participant_registered requires participant_id", ErrMalformed)
		}
		if e.Kind != KindHuman && e.Kind != KindAgent {
			return fmt.Errorf("%w: participant kind %q", ErrMalformed, e.Kind)
		}
	case TypeConversationStarted:
		if e.ConversationID == "" {
			return fmt.Errorf("%w: conversation_started requires conversation_id", ErrMalformed)
		}
		if e.ContextID == "" {
			return fmt.Errorf("%w: conversation_started requires context_id", ErrMalformed)
		}
	case TypeConversationEnded:
		if e.ConversationID == "" {
			return fmt.Errorf("%w: conversation_ended requires conversation_id", ErrMalformed)
		}
		if e.Status != StatusCompleted && e.Status != StatusAbandoned {
			return fmt.Errorf("%w: conversation_ended status %q", ErrMalformed, e.Status)
		}
	case TypeMessageSent:
		if e.ConversationID == "" || e.MessageID == "" || e.ParticipantID == "" {
			return fmt.Errorf("%w: message_sent requires conversation_id, message_id and participant_id", ErrMalformed)
		}
		if e.Role != RoleUser && e.Role != RoleAgent {
			return fmt.Errorf("%w: message role %q", ErrMalformed, e.Role)
		}
		switch e.Kind {
		case MessageText, MessageDelegationRequest, MessageDelegationResponse:
		default:
			return fmt.Errorf("%w: message kind %q", ErrMalformed, e.Kind)
		}
	case TypeDelegationIssued:
		if e.ParticipantID == "" || e.TargetParticipantID == "" {
			return fmt.Errorf("%w: delegation_issued requires participant_id and target_participant_id", ErrMalformed)
		}
		if e.ConversationID == "" || e.MessageID == "" {
			return fmt.Errorf("%w: delegation_issued requires conversation_id and message_id", ErrMalformed)
		}
	case TypeDelegationResolved:
		if e.MessageID == "" {
			return fmt.Errorf("%w: delegation_resolved requires message_id", ErrMalformed)
		}
		if e.Outcome != OutcomeSuccess && e.Outcome != OutcomeFailure {
			return fmt.Errorf("%w: delegation outcome %q", ErrMalformed, e.Outcome)
		}
		if e.LatencyMs < 0 {
			return fmt.Errorf("%w: negative latency_ms", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, e.Type)
	}
	return nil
}
