package model

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted Completer for tests: each call pops the next response.
// When Script runs out it keeps returning the last entry, so deterministic
// repeat calls (extraction purity tests) see identical transcripts.
type Mock struct {
	mu       sync.Mutex
	Script   []string
	Err      error
	Calls    []string // prompts received, in order
	strictOn int      // count of calls that asked for strict format
}

func (m *Mock) Complete(_ context.Context, prompt string, params Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, prompt)
	if params.StrictFormat {
		m.strictOn++
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Script) == 0 {
		return "", nil
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	return m.Script[idx], nil
}

// CallCount returns how many completions were requested.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// StrictCalls returns how many calls carried the strict format directive.
func (m *Mock) StrictCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strictOn
}

// LastPromptContains reports whether the most recent prompt mentions s.
func (m *Mock) LastPromptContains(s string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return false
	}
	return strings.Contains(m.Calls[len(m.Calls)-1], s)
}
