// internal/approval/machine_test.go
package approval

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Transition Table Tests
// ==========================

func TestNext_LegalTransitions(t *testing.T) {
	tests := []struct {
		name     string
		current  State
		action   Action
		expected State
	}{
		{"submit from draft", StateDraft, ActionSubmit, StateAnalyzing},
		{"analyze complete", StateAnalyzing, ActionAnalyzeComplete, StateAnalyzed},
		{"analyze fail", StateAnalyzing, ActionAnalyzeFail, StateFailed},
		{"edit from analyzed", StateAnalyzed, ActionEdit, StateEditing},
		{"regenerate from analyzed", StateAnalyzed, ActionRegenerate, StateAnalyzing},
		{"approve from analyzed", StateAnalyzed, ActionApprove, StateApproved},
		{"reject from analyzed", StateAnalyzed, ActionReject, StateRejected},
		{"resubmit from editing", StateEditing, ActionResubmit, StateAnalyzing},
		{"execute from approved", StateApproved, ActionExecute, StateExecuting},
		{"execute complete", StateExecuting, ActionExecuteComplete, StateExecuted},
		{"execute fail", StateExecuting, ActionExecuteFail, StateFailed},
		{"retry from failed", StateFailed, ActionRetry, StateExecuting},
		{"return from failed", StateFailed, ActionReturn, StateAnalyzed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Next(tt.current, tt.action)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestNext_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current State
		action  Action
	}{
		{"approve from draft", StateDraft, ActionApprove},
		{"execute from draft", StateDraft, ActionExecute},
		{"approve while analyzing", StateAnalyzing, ActionApprove},
		{"submit while analyzing", StateAnalyzing, ActionSubmit},
		{"execute from analyzed", StateAnalyzed, ActionExecute},
		{"resubmit from analyzed", StateAnalyzed, ActionResubmit},
		{"approve from editing", StateEditing, ActionApprove},
		{"edit from approved", StateApproved, ActionEdit},
		{"reject from approved", StateApproved, ActionReject},
		{"return from approved", StateApproved, ActionReturn},
		{"approve while executing", StateExecuting, ActionApprove},
		{"edit from failed", StateFailed, ActionEdit},
		{"approve from failed", StateFailed, ActionApprove},
		{"regenerate from failed", StateFailed, ActionRegenerate},
		{"reject from failed", StateFailed, ActionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.current, tt.action)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), "INVALID_STATE_TRANSITION"))
			// The rejection names the state the request was actually in.
			assert.True(t, strings.Contains(err.Error(), string(tt.current)))
		})
	}
}

func TestNext_CancelFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []State{
		StateDraft, StateAnalyzing, StateAnalyzed, StateEditing,
		StateApproved, StateExecuting, StateFailed,
	}

	for _, s := range nonTerminal {
		t.Run(string(s), func(t *testing.T) {
			next, err := Next(s, ActionCancel)
			assert.NoError(t, err)
			assert.Equal(t, StateCancelled, next)
		})
	}
}

func TestNext_ForceFailFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []State{
		StateDraft, StateAnalyzing, StateAnalyzed, StateEditing,
		StateApproved, StateExecuting, StateFailed,
	}

	for _, s := range nonTerminal {
		t.Run(string(s), func(t *testing.T) {
			next, err := Next(s, ActionForceFail)
			assert.NoError(t, err)
			assert.Equal(t, StateFailed, next)
		})
	}
}

func TestNext_TerminalStatesFrozen(t *testing.T) {
	terminal := []State{StateExecuted, StateRejected, StateCancelled}
	actions := []Action{
		ActionSubmit, ActionApprove, ActionReject, ActionExecute,
		ActionRetry, ActionRegenerate, ActionCancel, ActionForceFail,
	}

	for _, s := range terminal {
		for _, a := range actions {
			t.Run(string(s)+"/"+string(a), func(t *testing.T) {
				_, err := Next(s, a)
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), "INVALID_STATE_TRANSITION"))
			})
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StateExecuted))
	assert.True(t, IsTerminal(StateRejected))
	assert.True(t, IsTerminal(StateCancelled))

	assert.False(t, IsTerminal(StateDraft))
	assert.False(t, IsTerminal(StateAnalyzing))
	assert.False(t, IsTerminal(StateAnalyzed))
	assert.False(t, IsTerminal(StateEditing))
	assert.False(t, IsTerminal(StateApproved))
	assert.False(t, IsTerminal(StateExecuting))
	assert.False(t, IsTerminal(StateFailed))
}

// ==========================
// Record Tests
// ==========================

func TestRecord_HappyPath(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rec := NewRecord()
	assert.Equal(t, StateDraft, rec.State)

	steps := []struct {
		action   Action
		expected State
	}{
		{ActionSubmit, StateAnalyzing},
		{ActionAnalyzeComplete, StateAnalyzed},
		{ActionApprove, StateApproved},
		{ActionExecute, StateExecuting},
		{ActionExecuteComplete, StateExecuted},
	}

	for _, step := range steps {
		next, err := rec.Apply(step.action, "dispatcher", "", now)
		require.NoError(t, err)
		assert.Equal(t, step.expected, next)
		now = now.Add(time.Second)
	}

	assert.True(t, rec.Terminal())
	require.Equal(t, 5, len(rec.Transitions))
	assert.Equal(t, StateDraft, rec.Transitions[0].From)
	assert.Equal(t, StateExecuted, rec.Transitions[4].To)
	assert.Equal(t, "dispatcher", rec.Transitions[2].Actor)
}

func TestRecord_IllegalApplyLeavesStateUntouched(t *testing.T) {
	rec := NewRecord()
	now := time.Now()

	state, err := rec.Apply(ActionApprove, "dispatcher", "", now)
	require.Error(t, err)
	assert.Equal(t, StateDraft, state)
	assert.Equal(t, StateDraft, rec.State)
	assert.Empty(t, rec.Transitions)
}

func TestRecord_EditCycle(t *testing.T) {
	now := time.Now()
	rec := NewRecord()

	_, err := rec.Apply(ActionSubmit, "dispatcher", "", now)
	require.NoError(t, err)
	_, err = rec.Apply(ActionAnalyzeComplete, "", "", now)
	require.NoError(t, err)
	_, err = rec.Apply(ActionEdit, "dispatcher", "", now)
	require.NoError(t, err)

	rec.RecordEdit("start_time", "14:00", "15:00", "dispatcher", now)

	_, err = rec.Apply(ActionResubmit, "dispatcher", "", now)
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzing, rec.State)

	require.Equal(t, 1, len(rec.Edits))
	assert.Equal(t, "start_time", rec.Edits[0].Field)
	assert.Equal(t, "14:00", rec.Edits[0].Old)
	assert.Equal(t, "15:00", rec.Edits[0].New)
}

func TestRecord_Override(t *testing.T) {
	now := time.Now()
	rec := NewRecord()
	rec.RecordOverride("customer confirmed the past date is intentional", "supervisor", now)

	require.Equal(t, 1, len(rec.Overrides))
	assert.Equal(t, "supervisor", rec.Overrides[0].Actor)
	assert.NotEmpty(t, rec.Overrides[0].Justification)
}

func TestRecord_CancelMidFlight(t *testing.T) {
	now := time.Now()
	rec := NewRecord()

	_, err := rec.Apply(ActionSubmit, "dispatcher", "", now)
	require.NoError(t, err)

	next, err := rec.Apply(ActionCancel, "dispatcher", "changed my mind", now)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, next)
	assert.True(t, rec.Terminal())

	_, err = rec.Apply(ActionSubmit, "dispatcher", "", now)
	assert.Error(t, err)
}
