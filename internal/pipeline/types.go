// Package pipeline orchestrates the full path from request text to an
// executed fleet operation: classify, extract, select, generate, validate,
// approve, execute.
package pipeline

import (
	"time"

	"fleetbridge/internal/approval"
	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/entity"
	"fleetbridge/internal/execution"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/intent"
	"fleetbridge/internal/template"
	"fleetbridge/internal/validate"
)

// Analysis is one complete pipeline pass over the request text. It is rebuilt
// whole on regenerate; field edits rebuild only Payload and Report.
type Analysis struct {
	Intent          *intent.Result      `json:"intent"`
	Entities        *entity.Result      `json:"entities"`
	Selection       *template.Selection `json:"selection"`
	Payload         *generate.Payload   `json:"payload"`
	Report          *validate.Report    `json:"report"`
	SnapshotVersion int                 `json:"snapshotVersion"`
	AnalyzedAt      time.Time           `json:"analyzedAt"`
}

// Request is one tracked fleet request and everything that happened to it.
type Request struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	Record   *approval.Record `json:"record"`
	Analysis *Analysis        `json:"analysis,omitempty"`

	// Edits accumulates reviewer field overrides; they re-enter the pipeline
	// at the generator and survive until a full regenerate clears them.
	Edits map[string]interface{} `json:"edits,omitempty"`

	ExecResult *execution.Result     `json:"execResult,omitempty"`
	LastError  *errors.StandardError `json:"lastError,omitempty"`

	History *History `json:"-"`
}

func (r *Request) State() approval.State {
	return r.Record.State
}

// Event is one UI-facing lifecycle notification.
type Event struct {
	RequestID string         `json:"requestId"`
	Kind      string         `json:"kind"`
	State     approval.State `json:"state"`
	Detail    string         `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

const (
	EventStateChanged = "state_changed"
	EventAnalysisDone = "analysis_done"
	EventIssuesFound  = "issues_found"
	EventExecuted     = "executed"
	EventFailed       = "failed"
)
