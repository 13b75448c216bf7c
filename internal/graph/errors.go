package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Typed errors returned by store operations. Callers match with errors.Is;
// the HTTP layer maps them to status codes.
var (
	ErrUnknownConversation   = errors.New("unknown conversation")
	ErrUnknownParticipant    = errors.New("unknown participant")
	ErrUnknownEdge           = errors.New("unknown delegation edge")
	ErrDuplicateConversation = errors.New("conversation id already exists with a different context")
	ErrAlreadyResolved       = errors.New("delegation already resolved")
	ErrAlreadyClosed         = errors.New("conversation already closed")
	ErrSelfDelegation        = errors.New("delegation endpoints must be distinct")
	ErrOutOfOrderTimestamp   = errors.New("message timestamp precedes latest committed message")
	// ErrBusy surfaces bounded lock contention; callers should retry with
	// backoff instead of blocking.
	ErrBusy = errors.New("store busy")
)

// MapErr rewrites driver-level contention errors into ErrBusy so callers
// can retry with backoff instead of inspecting driver strings. Exported
// because the aggregation engine keeps its tables in the same database
// and hits the same contention.
func MapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
