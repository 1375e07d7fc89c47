package approval

import (
	"time"
)

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Action Action    `json:"action"`
	Actor  string    `json:"actor,omitempty"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// EditEntry records one reviewer field change made while the request sat in
// EDITING.
type EditEntry struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
	Actor string      `json:"actor,omitempty"`
	At    time.Time   `json:"at"`
}

// Override records the justification attached to an approval that went
// through despite warning-severity validation issues.
type Override struct {
	Justification string    `json:"justification"`
	Actor         string    `json:"actor,omitempty"`
	At            time.Time `json:"at"`
}

// Record is the lifecycle ledger for one request: current state plus the full
// history of transitions, edits, and overrides. Not safe for concurrent use;
// the pipeline serializes access per request.
type Record struct {
	State       State        `json:"state"`
	Transitions []Transition `json:"transitions"`
	Edits       []EditEntry  `json:"edits,omitempty"`
	Overrides   []Override   `json:"overrides,omitempty"`
}

// NewRecord starts a lifecycle in DRAFT.
func NewRecord() *Record {
	return &Record{State: StateDraft}
}

// Apply performs one action, mutating the record only when the transition is
// legal.
func (r *Record) Apply(action Action, actor, note string, now time.Time) (State, error) {
	next, err := Next(r.State, action)
	if err != nil {
		return r.State, err
	}
	r.Transitions = append(r.Transitions, Transition{
		From:   r.State,
		To:     next,
		Action: action,
		Actor:  actor,
		Note:   note,
		At:     now,
	})
	r.State = next
	return next, nil
}

// RecordEdit logs one field change.
func (r *Record) RecordEdit(field string, oldValue, newValue interface{}, actor string, now time.Time) {
	r.Edits = append(r.Edits, EditEntry{
		Field: field,
		Old:   oldValue,
		New:   newValue,
		Actor: actor,
		At:    now,
	})
}

// RecordOverride logs an approval override justification.
func (r *Record) RecordOverride(justification, actor string, now time.Time) {
	r.Overrides = append(r.Overrides, Override{
		Justification: justification,
		Actor:         actor,
		At:            now,
	})
}

// Terminal reports whether the lifecycle is frozen.
func (r *Record) Terminal() bool {
	return IsTerminal(r.State)
}
