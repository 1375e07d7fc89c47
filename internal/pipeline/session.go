package pipeline

// History keeps the last N conversation turns for a request. Old turns fall
// off the front; classification prompts only ever see the retained window.
type History struct {
	depth int
	turns []string
}

func NewHistory(depth int) *History {
	if depth < 1 {
		depth = 1
	}
	return &History{depth: depth}
}

// Add appends one turn, evicting the oldest when the window is full.
func (h *History) Add(turn string) {
	h.turns = append(h.turns, turn)
	if len(h.turns) > h.depth {
		h.turns = h.turns[len(h.turns)-h.depth:]
	}
}

// Turns returns the retained window, oldest first. The slice is a copy.
func (h *History) Turns() []string {
	out := make([]string, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int { return len(h.turns) }
