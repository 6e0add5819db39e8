package stt

import (
	"context"
	"sync"

	"github.com/teslashibe/go-nao/pkg/robot"
)

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	TranscribeFunc func(ctx context.Context, clip robot.Clip) (string, error)

	mu    sync.Mutex
	clips []robot.Clip
}

// NewMock returns a mock that always transcribes to text.
func NewMock(text string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, clip robot.Clip) (string, error) {
			return text, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the clip.
func (m *Mock) Transcribe(ctx context.Context, clip robot.Clip) (string, error) {
	m.mu.Lock()
	m.clips = append(m.clips, clip)
	m.mu.Unlock()
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, clip)
	}
	return "", ErrNoMatch
}

// CallCount returns the number of Transcribe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clips)
}

var _ Transcriber = (*Mock)(nil)
