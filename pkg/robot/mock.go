package robot

import (
	"context"
	"sync"
	"time"
)

// Mock implements Robot for testing.
//
// Sensor values are set with SetFlag and SetString. Errors can be injected
// per method name with Fail. Word recognitions are delivered to active
// spotters with Recognize.
type Mock struct {
	// StartRecordingFunc overrides StartRecording when set.
	StartRecordingFunc func(ctx context.Context, target string) error

	// StopRecordingFunc overrides StopRecording when set.
	StopRecordingFunc func(ctx context.Context) (Clip, error)

	mu       sync.Mutex
	calls    []MockCall
	flags    map[string]bool
	strings  map[string]string
	errs     map[string]error
	spotters map[int]func(WordRecognition)
	nextID   int
	target   string
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Args   []interface{}
	Time   time.Time
}

// NewMock creates a mock robot with all sensors clear.
func NewMock() *Mock {
	return &Mock{
		flags:    make(map[string]bool),
		strings:  make(map[string]string),
		errs:     make(map[string]error),
		spotters: make(map[int]func(WordRecognition)),
	}
}

// SetFlag sets the value returned by ReadFlag for key.
func (m *Mock) SetFlag(key string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = v
}

// SetString sets the value returned by ReadString for key.
func (m *Mock) SetString(key, v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = v
}

// Fail makes every call to method return err. A nil err clears it.
func (m *Mock) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// Recognize delivers a recognition to every active spotter.
func (m *Mock) Recognize(word string, confidence float64) {
	m.mu.Lock()
	handlers := make([]func(WordRecognition), 0, len(m.spotters))
	for _, h := range m.spotters {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(WordRecognition{Word: word, Confidence: confidence})
	}
}

// ActiveSpotters returns the number of spotting sessions not yet stopped.
func (m *Mock) ActiveSpotters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spotters)
}

func (m *Mock) record(method string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Args: args, Time: time.Now()})
	return m.errs[method]
}

func (m *Mock) SetLanguage(ctx context.Context, language string) error {
	return m.record("SetLanguage", language)
}

func (m *Mock) Say(ctx context.Context, text string, mode SpeechMode) error {
	return m.record("Say", text, mode)
}

func (m *Mock) GoToPosture(ctx context.Context, name string, speed float64) error {
	return m.record("GoToPosture", name, speed)
}

func (m *Mock) On(ctx context.Context, group string) error {
	return m.record("On", group)
}

func (m *Mock) Off(ctx context.Context, group string) error {
	return m.record("Off", group)
}

func (m *Mock) SetIntensity(ctx context.Context, group string, intensity float64) error {
	return m.record("SetIntensity", group, intensity)
}

func (m *Mock) Animate(ctx context.Context, name string, duration time.Duration) error {
	return m.record("Animate", name, duration)
}

func (m *Mock) SetLifeState(ctx context.Context, state string) error {
	return m.record("SetLifeState", state)
}

func (m *Mock) ReadFlag(ctx context.Context, key string) (bool, error) {
	if err := m.record("ReadFlag", key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[key], nil
}

func (m *Mock) ReadString(ctx context.Context, key string) (string, error) {
	if err := m.record("ReadString", key); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strings[key], nil
}

func (m *Mock) StartSpotting(ctx context.Context, vocabulary []string, handler func(WordRecognition)) (func() error, error) {
	if err := m.record("StartSpotting", vocabulary); err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.spotters[id] = handler
	m.mu.Unlock()

	var once sync.Once
	return func() error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.spotters, id)
			m.mu.Unlock()
		})
		return m.record("StopSpotting")
	}, nil
}

func (m *Mock) StartRecording(ctx context.Context, target string) error {
	if err := m.record("StartRecording", target); err != nil {
		return err
	}
	if m.StartRecordingFunc != nil {
		if err := m.StartRecordingFunc(ctx, target); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.target = target
	m.mu.Unlock()
	return nil
}

func (m *Mock) StopRecording(ctx context.Context) (Clip, error) {
	if err := m.record("StopRecording"); err != nil {
		return Clip{}, err
	}
	if m.StopRecordingFunc != nil {
		return m.StopRecordingFunc(ctx)
	}
	m.mu.Lock()
	target := m.target
	m.target = ""
	m.mu.Unlock()
	if target == "" {
		return Clip{}, ErrNotRecording
	}
	return Clip{Target: target, Format: "wav", SampleRate: 16000, Data: []byte("RIFF")}, nil
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Said returns the text of every Say call in order.
func (m *Mock) Said() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Method == "Say" {
			out = append(out, c.Args[0].(string))
		}
	}
	return out
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Robot = (*Mock)(nil)
