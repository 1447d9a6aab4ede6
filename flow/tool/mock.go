package tool

import (
	"context"
	"sync"
)

// MockTool is a test implementation of Tool.
//
// Use MockTool to exercise flows without real side effects. It provides
// configurable response sequences, error injection, and a call history
// for asserting the inputs a flow produced.
//
// Example:
//
//	mock := &MockTool{
//	    ToolName:  "search_web",
//	    Responses: []map[string]interface{}{{"results": []string{"a", "b"}}},
//	}
//	out, err := mock.Call(ctx, map[string]interface{}{"query": "test"})
type MockTool struct {
	// ToolName is the identifier returned by Name().
	ToolName string

	// Responses is the sequence of outputs to return, one per call.
	// Once exhausted, the last response repeats.
	Responses []map[string]interface{}

	// Err, if set, is returned by Call() instead of a response.
	Err error

	// Calls records the input of every Call() invocation.
	Calls []map[string]interface{}

	mu        sync.Mutex
	callIndex int
}

// Name implements the Tool interface.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements the Tool interface. The call is recorded in Calls
// whether or not an error is returned.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, input)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of recorded calls.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears the call history and response index so the mock can be
// reused across test cases.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}
