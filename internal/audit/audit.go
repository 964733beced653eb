package audit

import (
	"context"
	"fmt"
	"time"
)

// ActorType represents the kind of entity performing an action.
type ActorType string

const (
	ActorTypeOwner  ActorType = "owner"
	ActorTypeKey    ActorType = "key"
	ActorTypeSystem ActorType = "system"
)

// Severity classifies an event for downstream alerting. Almost everything
// is info; replay detection and consistency violations are high.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityHigh Severity = "high"
)

// Event is a single append-only audit record.
type Event struct {
	ActorType   ActorType
	ActorID     string // External hex form of the actor id
	Action      string // e.g. "key:mint", "refresh_token:replay_detected"
	SubjectType string // Optional, e.g. "key", "post", "refresh_token"
	SubjectID   string
	Severity    Severity
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Sink records audit events. Emission is fire-and-forget from the engines'
// perspective: a failed emit never rolls back the operation it describes,
// but is surfaced to callers as an *EmitError so they can decide whether
// to proceed or fail hard.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// EmitError wraps an audit emission failure so callers can distinguish
// "operation failed" from "operation succeeded, audit degraded" with
// errors.As.
type EmitError struct {
	Action string
	Err    error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("audit emit failed for %s: %v", e.Action, e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}
