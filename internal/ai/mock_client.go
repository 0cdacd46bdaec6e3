package ai

import (
	"context"
	"sync"
)

// MockClient provides scripted analysis responses for testing. Responses
// are keyed by analysis type; unknown types get an empty valid response.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]*Response
	failWith  map[string]error
	failAll   error
	calls     []Request
}

func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string]*Response),
		failWith:  make(map[string]error),
	}
}

// RespondWith scripts the response returned for an analysis type.
func (m *MockClient) RespondWith(analysisType string, resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[analysisType] = resp
}

// FailWith scripts an error for one analysis type.
func (m *MockClient) FailWith(analysisType string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith[analysisType] = err
}

// FailAll makes every call fail with err.
func (m *MockClient) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many requests of the given analysis type were seen.
func (m *MockClient) CallCount(analysisType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.calls {
		if call.AnalysisType == analysisType {
			n++
		}
	}
	return n
}

func (m *MockClient) Analyze(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.failAll != nil {
		return nil, m.failAll
	}
	if err, ok := m.failWith[req.AnalysisType]; ok {
		return nil, err
	}
	if resp, ok := m.responses[req.AnalysisType]; ok {
		return resp, nil
	}
	return &Response{Data: map[string]any{}, Metadata: Metadata{ModelUsed: "mock"}}, nil
}
