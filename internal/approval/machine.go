// Package approval owns the request lifecycle: which states exist, which
// actions move between them, and the audit trail of every move.
package approval

import (
	"fleetbridge/internal/common/errors"
)

type State string

const (
	StateDraft     State = "DRAFT"
	StateAnalyzing State = "ANALYZING"
	StateAnalyzed  State = "ANALYZED"
	StateEditing   State = "EDITING"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StateExecuting State = "EXECUTING"
	StateExecuted  State = "EXECUTED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

type Action string

const (
	ActionSubmit          Action = "submit"
	ActionAnalyzeComplete Action = "analyze_complete"
	ActionAnalyzeFail     Action = "analyze_fail"
	ActionEdit            Action = "edit"
	ActionResubmit        Action = "resubmit"
	ActionRegenerate      Action = "regenerate"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionReturn          Action = "return"
	ActionExecute         Action = "execute"
	ActionExecuteComplete Action = "execute_complete"
	ActionExecuteFail     Action = "execute_fail"
	ActionRetry           Action = "retry"
	ActionCancel          Action = "cancel"
	ActionForceFail       Action = "force_fail"
)

// transitions is the complete edge table. Anything not listed is illegal and
// rejected with the current state in context, never silently ignored.
var transitions = map[State]map[Action]State{
	StateDraft: {
		ActionSubmit: StateAnalyzing,
	},
	StateAnalyzing: {
		ActionAnalyzeComplete: StateAnalyzed,
		ActionAnalyzeFail:     StateFailed,
	},
	StateAnalyzed: {
		ActionEdit:       StateEditing,
		ActionRegenerate: StateAnalyzing,
		ActionApprove:    StateApproved,
		ActionReject:     StateRejected,
	},
	StateEditing: {
		ActionResubmit: StateAnalyzing,
	},
	StateApproved: {
		ActionExecute: StateExecuting,
	},
	StateExecuting: {
		ActionExecuteComplete: StateExecuted,
		ActionExecuteFail:     StateFailed,
	},
	StateFailed: {
		ActionRetry:  StateExecuting,
		ActionReturn: StateAnalyzed,
	},
}

// IsTerminal reports whether the state accepts no further actions. Terminal
// requests are frozen; their history stays readable forever.
func IsTerminal(s State) bool {
	switch s {
	case StateExecuted, StateRejected, StateCancelled:
		return true
	}
	return false
}

// Next resolves one action against the current state. Cancel is legal from
// every non-terminal state and force_fail marks an invariant violation from
// any non-terminal state, so neither appears in the edge table.
func Next(current State, action Action) (State, error) {
	if IsTerminal(current) {
		return "", errors.NewInvalidTransitionError(string(current), string(action))
	}

	switch action {
	case ActionCancel:
		return StateCancelled, nil
	case ActionForceFail:
		return StateFailed, nil
	}

	edges, ok := transitions[current]
	if !ok {
		return "", errors.NewInvalidTransitionError(string(current), string(action))
	}
	next, ok := edges[action]
	if !ok {
		return "", errors.NewInvalidTransitionError(string(current), string(action))
	}
	return next, nil
}
