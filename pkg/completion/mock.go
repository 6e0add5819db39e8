package completion

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// CompleteFunc is called when Complete is invoked.
	CompleteFunc func(ctx context.Context, req *Request) (*Response, error)

	// NameOverride replaces the default "mock" name.
	NameOverride string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Complete invocation.
type MockCall struct {
	Prompt    string
	MaxTokens int
	Time      time.Time
}

// NewMock creates a mock that always returns text.
func NewMock(text string) *Mock {
	return &Mock{
		CompleteFunc: func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{Text: text, Provider: "mock", FinishReason: "stop"}, nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		CompleteFunc: func(ctx context.Context, req *Request) (*Response, error) {
			return nil, err
		},
	}
}

func (m *Mock) Name() string {
	if m.NameOverride != "" {
		return m.NameOverride
	}
	return "mock"
}

// Complete calls CompleteFunc and records the call.
func (m *Mock) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: req.Prompt, MaxTokens: req.MaxTokens, Time: time.Now()})
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return nil, WrapError(m.Name(), ErrProviderUnavailable)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Complete calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ Provider = (*Mock)(nil)
