// internal/pipeline/session_test.go
package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ==========================
// History Tests
// ==========================

func TestHistory_EvictsOldestBeyondDepth(t *testing.T) {
	h := NewHistory(3)

	h.Add("first")
	h.Add("second")
	h.Add("third")
	h.Add("fourth")
	h.Add("fifth")

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []string{"third", "fourth", "fifth"}, h.Turns())
}

func TestHistory_OldestFirstUnderDepth(t *testing.T) {
	h := NewHistory(5)

	h.Add("reserve a van")
	h.Add("make it tomorrow instead")

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []string{"reserve a van", "make it tomorrow instead"}, h.Turns())
}

func TestHistory_DepthClampsToOne(t *testing.T) {
	h := NewHistory(0)

	h.Add("first")
	h.Add("second")

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, []string{"second"}, h.Turns())
}

func TestHistory_TurnsReturnsCopy(t *testing.T) {
	h := NewHistory(3)
	h.Add("original")

	turns := h.Turns()
	turns[0] = "mutated"

	assert.Equal(t, []string{"original"}, h.Turns())
}

func TestHistory_EmptyTurns(t *testing.T) {
	h := NewHistory(3)

	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Turns())
}
