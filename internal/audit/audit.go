// Package audit persists the immutable trail of request lifecycle events.
package audit

import (
	"context"
	"time"
)

// Entry is one audit event. Payload carries event-specific detail: the
// transition, the edit, the validation summary, or the execution outcome.
type Entry struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"requestId"`
	Event     string                 `json:"event"`
	State     string                 `json:"state,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	At        time.Time              `json:"at"`
}

// Event kinds found in the trail.
const (
	EventTransition = "transition"
	EventEdit       = "edit"
	EventOverride   = "override"
	EventValidation = "validation"
	EventExecution  = "execution"
)

// Recorder appends audit entries. A write failure must never lose the
// lifecycle change it describes; callers log and continue.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// NopRecorder discards everything. Used in tests and when auditing is
// disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }
func (NopRecorder) Close() error                        { return nil }
