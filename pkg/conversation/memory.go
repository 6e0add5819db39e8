// Package conversation keeps the short question/answer memory of a voice
// session and assembles the prompt sent to the completion collaborator.
//
// Only a small window of recent turns is replayed to the model; the full
// history stays available through Turns for logging and the dashboard.
package conversation

import (
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the number of recent turns replayed once the history
// holds two or more turns.
const DefaultWindow = 3

// Role identifies who produced a turn.
type Role string

const (
	RoleQuestion Role = "question"
	RoleAnswer   Role = "answer"
)

// Turn is one question or one answer. Turns are never modified after
// they are recorded.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Labels are the prefixes written in front of each turn in a prompt.
type Labels struct {
	Question string
	Answer   string
}

// DefaultLabels returns the English prompt labels.
func DefaultLabels() Labels {
	return Labels{Question: "Question", Answer: "Answer"}
}

// Memory is the ordered turn history of one session.
// It is safe for concurrent use; the dashboard reads it while the
// controller writes.
type Memory struct {
	mu     sync.RWMutex
	turns  []Turn
	labels Labels
	window int
	now    func() time.Time
}

// Option configures a Memory.
type Option func(*Memory)

// WithLabels overrides the prompt labels.
func WithLabels(l Labels) Option {
	return func(m *Memory) { m.labels = l }
}

// WithWindow overrides the number of replayed turns.
// Values below 1 are ignored.
func WithWindow(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.window = n
		}
	}
}

// New creates an empty memory.
func New(opts ...Option) *Memory {
	m := &Memory{
		labels: DefaultLabels(),
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordQuestion appends a question turn.
func (m *Memory) RecordQuestion(text string) {
	m.append(RoleQuestion, text)
}

// RecordAnswer appends an answer turn.
func (m *Memory) RecordAnswer(text string) {
	m.append(RoleAnswer, text)
}

func (m *Memory) append(role Role, text string) {
	m.mu.Lock()
	m.turns = append(m.turns, Turn{Role: role, Text: text, At: m.now()})
	m.mu.Unlock()
}

// Len returns the number of recorded turns.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Turns returns a copy of the full history, oldest first.
func (m *Memory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Recent returns the turns replayed to the model: nothing for an empty
// history, the single turn when there is exactly one, otherwise the last
// window turns.
func (m *Memory) Recent() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.turns)
	switch {
	case n == 0:
		return nil
	case n == 1:
		return []Turn{m.turns[0]}
	}

	start := n - m.window
	if start < 0 {
		start = 0
	}
	out := make([]Turn, n-start)
	copy(out, m.turns[start:])
	return out
}

// BuildPrompt returns systemContext, the recent window, then the new
// question and an open answer label.
func (m *Memory) BuildPrompt(newQuestion, systemContext string) string {
	var b strings.Builder
	b.WriteString(systemContext)
	for _, t := range m.Recent() {
		b.WriteString(m.format(t))
	}
	b.WriteString("\n")
	b.WriteString(m.labels.Question)
	b.WriteString(": ")
	b.WriteString(newQuestion)
	b.WriteString("\n")
	b.WriteString(m.labels.Answer)
	b.WriteString(": ")
	return b.String()
}

func (m *Memory) format(t Turn) string {
	label := m.labels.Question
	if t.Role == RoleAnswer {
		label = m.labels.Answer
	}
	return "\n" + label + ": " + t.Text
}

// Placeholder is returned by ExtractTerminatedAnswer when the completion
// holds no complete sentence.
const Placeholder = " "

// ExtractTerminatedAnswer cuts raw after its last '.', '?' or '!' so a
// sentence truncated by the token limit is never spoken.
// Blank input or input with no terminator yields Placeholder.
func ExtractTerminatedAnswer(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return Placeholder
	}
	end := strings.LastIndexAny(raw, ".?!")
	if end < 0 {
		return Placeholder
	}
	return raw[:end+1]
}
