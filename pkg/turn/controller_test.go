package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-nao/pkg/completion"
	"github.com/teslashibe/go-nao/pkg/event"
	"github.com/teslashibe/go-nao/pkg/metrics"
	"github.com/teslashibe/go-nao/pkg/robot"
	"github.com/teslashibe/go-nao/pkg/stt"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SystemContext = "SYS"
	cfg.PollInterval = time.Millisecond
	cfg.MicrophoneTimeout = time.Second
	cfg.OutputTimeout = time.Second
	return cfg
}

// scripted hands out queued triggers, one per poll, while active.
type scripted struct {
	mu          sync.Mutex
	queue       []event.Kind
	active      bool
	activations int
}

func fire(kinds ...event.Kind) *scripted {
	return &scripted{queue: kinds}
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Activate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.activations++
	return nil
}

func (s *scripted) Poll(context.Context) (event.Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || len(s.queue) == 0 {
		return event.Trigger{}, false
	}
	k := s.queue[0]
	s.queue = s.queue[1:]
	return event.Trigger{Kind: k, At: time.Now()}, true
}

func (s *scripted) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *scripted) push(kinds ...event.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, kinds...)
}

func (s *scripted) activationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations
}

func (s *scripted) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu          sync.Mutex
	transitions []Transition
	exchanges   []Exchange
	failures    []FailureKind
}

func (r *recorder) OnTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) OnExchange(e Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, e)
}

func (r *recorder) OnFailure(kind FailureKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, kind)
}

func (r *recorder) path() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []State{}
	for i, t := range r.transitions {
		if i == 0 {
			out = append(out, t.From)
		}
		out = append(out, t.To)
	}
	return out
}

type fixture struct {
	robot *robot.Mock
	stt   *stt.Mock
	llm   *completion.Mock
	obs   *recorder
	ctrl  *Controller
}

func newFixture(t *testing.T, idle, listening event.Source, transcript, completionText string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		robot: robot.NewMock(),
		stt:   stt.NewMock(transcript),
		llm:   completion.NewMock(completionText),
		obs:   &recorder{},
	}
	opts = append([]Option{
		WithSources(event.NewSet(idle), event.NewSet(listening)),
		WithObserver(f.obs),
	}, opts...)
	f.ctrl = New(testConfig(), f.robot, f.stt, f.llm, opts...)
	return f
}

func step(t *testing.T, c *Controller, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := c.Step(ctx)
	require.Equal(t, want, got, "unexpected state after step")
}

func TestController_EndToEnd(t *testing.T) {
	idle := fire(event.WakePhrase)
	listening := fire(event.EndOfSpeech)
	f := newFixture(t, idle, listening, "what is gravity", "Gravity pulls objects toward each other.")
	c := f.ctrl

	assert.Equal(t, Idle, c.State())
	step(t, c, Greeting)
	step(t, c, Listening)
	step(t, c, Recording)
	step(t, c, Listening)

	// Prompt built with zero prior turns.
	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "SYS\nQuestion: what is gravity\nAnswer: ", calls[0].Prompt)
	assert.Equal(t, testConfig().MaxTokens, calls[0].MaxTokens)

	said := f.robot.Said()
	require.Len(t, said, 2)
	assert.Equal(t, testConfig().Greeting, said[0])
	assert.Equal(t, "Gravity pulls objects toward each other.", said[1])

	turns := c.Memory().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "what is gravity", turns[0].Text)
	assert.Equal(t, "Gravity pulls objects toward each other.", turns[1].Text)

	assert.Equal(t, []State{Idle, Greeting, Listening, Recording, Listening}, f.obs.path())
	require.Len(t, f.obs.exchanges, 1)
	assert.Equal(t, c.Session(), f.obs.exchanges[0].Session)

	assert.False(t, idle.isActive(), "idle sources released on leaving Idle")
	assert.False(t, listening.isActive(), "listening sources released on leaving Listening")
	assert.Equal(t, 1, f.robot.CallCount("StartRecording"))
	assert.Equal(t, 1, f.robot.CallCount("StopRecording"))
	assert.Equal(t, 1, f.stt.CallCount())
}

func TestController_GreetingScript(t *testing.T) {
	f := newFixture(t, fire(event.HeadTouch), fire(), "", "")
	step(t, f.ctrl, Greeting)
	f.robot.Reset()
	step(t, f.ctrl, Listening)

	var methods []string
	for _, call := range f.robot.Calls() {
		methods = append(methods, call.Method)
	}
	assert.Equal(t, []string{"On", "GoToPosture", "SetLifeState", "Say", "On"}, methods)

	calls := f.robot.Calls()
	assert.Equal(t, robot.LedsAll, calls[0].Args[0])
	assert.Equal(t, robot.PostureStandInit, calls[1].Args[0])
	assert.Equal(t, robot.LifeSolitary, calls[2].Args[0])
	assert.Equal(t, robot.ModeAnimated, calls[3].Args[1])
	assert.Equal(t, robot.LedsEars, calls[4].Args[0])
}

func TestController_AnswerIsTrimmedToLastSentence(t *testing.T) {
	f := newFixture(t, fire(event.WakePhrase), fire(event.HeadTouch), "capital de Francia",
		"\n\nParis is the capital. It is")
	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Recording)
	step(t, f.ctrl, Listening)

	said := f.robot.Said()
	assert.Equal(t, "Paris is the capital.", said[len(said)-1])
	assert.Equal(t, 1, f.robot.CallCount("Animate"), "thinking animation before answering")
}

func TestController_StopPhraseBeatsHeadTouch(t *testing.T) {
	// Both sources fire in the same tick.
	listening := event.NewSet(fire(event.HeadTouch), fire(event.StopPhrase))
	f := newFixture(t, fire(event.WakePhrase), fire(), "hola", "Hola.",
		WithSources(event.NewSet(fire(event.WakePhrase)), listening))

	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Farewell)
	step(t, f.ctrl, Terminated)

	assert.Equal(t, 0, f.stt.CallCount())
	assert.Equal(t, 0, f.llm.CallCount())

	f.obs.mu.Lock()
	defer f.obs.mu.Unlock()
	last := f.obs.transitions[len(f.obs.transitions)-2]
	require.NotNil(t, last.Trigger)
	assert.Equal(t, event.StopPhrase, last.Trigger.Kind)
}

func TestController_HandTouchEndsSession(t *testing.T) {
	f := newFixture(t, fire(event.HandTouch), fire(event.HandTouch), "", "")
	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Farewell)
	f.robot.Reset()
	step(t, f.ctrl, Terminated)

	// Terminated has no way out.
	step(t, f.ctrl, Terminated)

	said := f.robot.Said()
	require.Len(t, said, 1, "farewell exactly once")
	assert.Equal(t, testConfig().Farewell, said[0])

	var methods []string
	for _, call := range f.robot.Calls() {
		methods = append(methods, call.Method)
	}
	assert.Equal(t, []string{"Say", "GoToPosture", "Off", "GoToPosture"}, methods)
	calls := f.robot.Calls()
	assert.Equal(t, robot.PostureCrouch, calls[1].Args[0])
	assert.Equal(t, robot.LedsAll, calls[2].Args[0])
	assert.Equal(t, robot.PostureStandInit, calls[3].Args[0])
}

func TestController_RecognitionFailureSkipsCompletion(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, robot.Clip) (string, error)
	}{
		{"no match", func(context.Context, robot.Clip) (string, error) { return "", stt.ErrNoMatch }},
		{"wrapped no match", func(context.Context, robot.Clip) (string, error) {
			return "", errors.Join(errors.New("google"), stt.ErrNoMatch)
		}},
		{"blank transcript", func(context.Context, robot.Clip) (string, error) { return "   ", nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fire(event.WakePhrase), fire(event.EndOfSpeech), "", "Never.")
			f.stt.TranscribeFunc = tt.fn

			step(t, f.ctrl, Greeting)
			step(t, f.ctrl, Listening)
			step(t, f.ctrl, Recording)
			step(t, f.ctrl, Listening)

			assert.Equal(t, 0, f.llm.CallCount(), "completion must not be called")
			assert.Equal(t, 0, f.ctrl.Memory().Len())
			assert.Equal(t, []string{testConfig().Greeting}, f.robot.Said())
			assert.Contains(t, f.obs.failures, RecognitionFailure)
		})
	}
}

func TestController_TransportFailureApologizesOnce(t *testing.T) {
	m := metrics.New("test", nil)
	f := newFixture(t, fire(event.WakePhrase), fire(event.EndOfSpeech), "qué es la luna", "",
		WithMetrics(m))
	f.llm.CompleteFunc = func(ctx context.Context, req *completion.Request) (*completion.Response, error) {
		return nil, &completion.APIError{StatusCode: 503, Message: "unavailable", Provider: "openai"}
	}

	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Recording)
	step(t, f.ctrl, Listening)

	said := f.robot.Said()
	apologies := 0
	for _, s := range said {
		if s == testConfig().Apology {
			apologies++
		}
	}
	assert.Equal(t, 1, apologies)
	assert.Equal(t, 0, f.ctrl.Memory().Len(), "failed turns are not remembered")
	assert.Contains(t, f.obs.failures, TransportFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("apology")))
}

func TestController_TranscriptionTransportFailureApologizes(t *testing.T) {
	f := newFixture(t, fire(event.WakePhrase), fire(event.EndOfSpeech), "", "Never.")
	f.stt.TranscribeFunc = func(context.Context, robot.Clip) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}

	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Recording)
	step(t, f.ctrl, Listening)

	assert.Equal(t, 0, f.llm.CallCount())
	said := f.robot.Said()
	assert.Equal(t, testConfig().Apology, said[len(said)-1])
}

func TestController_NoCompleteSentenceApologizes(t *testing.T) {
	f := newFixture(t, fire(event.WakePhrase), fire(event.EndOfSpeech), "hola", "sin punto final")
	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Recording)
	step(t, f.ctrl, Listening)

	said := f.robot.Said()
	assert.Equal(t, testConfig().Apology, said[len(said)-1])
	assert.Equal(t, 0, f.ctrl.Memory().Len())
}

func TestController_StopPhraseInTranscript(t *testing.T) {
	f := newFixture(t, fire(event.WakePhrase), fire(event.EndOfSpeech), "Bueno, ¡adiós!", "Never.")
	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Recording)
	step(t, f.ctrl, Farewell)
	step(t, f.ctrl, Terminated)

	assert.Equal(t, 0, f.llm.CallCount())
}

func TestController_IndicatorFailureDoesNotStopGreeting(t *testing.T) {
	f := newFixture(t, fire(event.WakePhrase), fire(), "", "")
	ledErr := errors.New("led board offline")
	f.robot.Fail("On", ledErr)
	f.robot.Fail("SetIntensity", ledErr)
	f.robot.Fail("SetLifeState", ledErr)

	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)

	assert.Equal(t, []string{testConfig().Greeting}, f.robot.Said())
	assert.Contains(t, f.obs.failures, HardwareCallFailure)
}

func TestController_MicrophoneTimeoutStaysListening(t *testing.T) {
	listening := fire()
	f := newFixture(t, fire(event.WakePhrase), listening, "hola", "Hola.")
	step(t, f.ctrl, Greeting)

	f.robot.Fail("StartRecording", &robot.CallError{Method: "ALAudioDevice.startMicrophonesRecording", Message: "timeout", Code: "timeout"})
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Listening)
	step(t, f.ctrl, Listening)

	var red bool
	for _, call := range f.robot.Calls() {
		if call.Method == "SetIntensity" && call.Args[0] == robot.LedsAllRed {
			red = true
		}
	}
	assert.True(t, red, "microphone timeout shows red indicators")
	assert.True(t, listening.isActive(), "sources stay active between retries")
	assert.Equal(t, 1, listening.activationCount(), "retries do not re-activate sources")

	// Microphone recovers.
	f.robot.Fail("StartRecording", nil)
	listening.push(event.EndOfSpeech)
	step(t, f.ctrl, Recording)
	step(t, f.ctrl, Listening)
	assert.Equal(t, 1, f.llm.CallCount())
	assert.False(t, listening.isActive())
}

func TestController_SessionEndsWhileMicrophoneFails(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind event.Kind
	}{
		{"timeout then hand touch", robot.ErrMicrophoneTimeout, event.HandTouch},
		{"bridge error then stop phrase", &robot.CallError{Method: "ALAudioDevice.startMicrophonesRecording", Message: "device busy"}, event.StopPhrase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listening := fire()
			f := newFixture(t, fire(event.WakePhrase), listening, "", "")
			f.robot.Fail("StartRecording", tt.err)

			step(t, f.ctrl, Greeting)
			step(t, f.ctrl, Listening)
			step(t, f.ctrl, Listening)

			listening.push(tt.kind)
			step(t, f.ctrl, Farewell)
			step(t, f.ctrl, Terminated)

			assert.False(t, listening.isActive())
			assert.Equal(t, []string{testConfig().Greeting, testConfig().Farewell}, f.robot.Said())
			assert.Equal(t, 0, f.robot.CallCount("StopRecording"), "nothing was recording")
		})
	}
}

func TestController_SoftTriggerIgnoredWhileMicrophoneFails(t *testing.T) {
	listening := fire()
	f := newFixture(t, fire(event.WakePhrase), listening, "", "")
	f.robot.Fail("StartRecording", robot.ErrMicrophoneTimeout)

	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)
	listening.push(event.HeadTouch)
	step(t, f.ctrl, Listening)

	assert.Equal(t, 0, f.stt.CallCount())
}

// Uses the real touch source: a hand press during a failing retry ends
// the session.
func TestController_HandTouchDuringMicrophoneRetry(t *testing.T) {
	r := robot.NewMock()
	c := New(testConfig(), r, stt.NewMock(""), completion.NewMock(""))
	go func() {
		for r.ActiveSpotters() == 0 {
			time.Sleep(time.Millisecond)
		}
		r.Recognize("hola", 0.9)
	}()
	step(t, c, Greeting)
	step(t, c, Listening)

	attempts := 0
	r.StartRecordingFunc = func(ctx context.Context, target string) error {
		attempts++
		if attempts == 2 {
			r.SetFlag("HandLeftBackTouched", true)
		}
		return robot.ErrMicrophoneTimeout
	}
	step(t, c, Listening)
	step(t, c, Farewell)
	step(t, c, Terminated)
	assert.Equal(t, 0, r.ActiveSpotters())
}

func TestController_ConversationWindowAcrossTurns(t *testing.T) {
	f := newFixture(t, fire(event.WakePhrase), fire(event.EndOfSpeech, event.EndOfSpeech), "", "")
	questions := []string{"q1", "q2"}
	answers := []string{"a1.", "a2."}
	n := 0
	f.stt.TranscribeFunc = func(context.Context, robot.Clip) (string, error) {
		return questions[n], nil
	}
	f.llm.CompleteFunc = func(ctx context.Context, req *completion.Request) (*completion.Response, error) {
		text := answers[n]
		n++
		return &completion.Response{Text: text}, nil
	}

	step(t, f.ctrl, Greeting)
	for i := 0; i < 2; i++ {
		step(t, f.ctrl, Listening)
		step(t, f.ctrl, Recording)
	}
	step(t, f.ctrl, Listening)

	calls := f.llm.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "SYS\nQuestion: q1\nAnswer: ", calls[0].Prompt)
	assert.Equal(t, "SYS\nQuestion: q1\nAnswer: a1.\nQuestion: q2\nAnswer: ", calls[1].Prompt)
	assert.Equal(t, 4, f.ctrl.Memory().Len())
}

func TestController_RunCancelledInIdleSkipsFarewell(t *testing.T) {
	f := newFixture(t, fire(), fire(), "", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, Terminated, f.ctrl.State())
	assert.Empty(t, f.robot.Said(), "no goodbye without a greeting")
	assert.Equal(t, 1, f.robot.CallCount("SetLanguage"), "startup sets the speech language")
	assert.Equal(t, 1, f.robot.CallCount("Off"), "lights off on exit")
	assert.Equal(t, []State{Idle, Terminated}, f.obs.path())
}

func TestController_CancelledWhileListeningSaysGoodbye(t *testing.T) {
	listening := fire()
	f := newFixture(t, fire(event.WakePhrase), listening, "", "")
	step(t, f.ctrl, Greeting)
	step(t, f.ctrl, Listening)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, Farewell, f.ctrl.Step(ctx))
	require.Equal(t, Terminated, f.ctrl.Step(ctx))

	assert.Equal(t, []string{testConfig().Greeting, testConfig().Farewell}, f.robot.Said())
	assert.False(t, listening.isActive())
}

// Exercises the real word spotter, touch and status sources over the mock robot.
func TestController_DefaultSources(t *testing.T) {
	r := robot.NewMock()
	obs := &recorder{}
	c := New(testConfig(), r, stt.NewMock("hola"), completion.NewMock("Hola."), WithObserver(obs))

	go func() {
		for r.ActiveSpotters() == 0 {
			time.Sleep(time.Millisecond)
		}
		r.Recognize("hola", 0.8)
	}()
	step(t, c, Greeting)
	step(t, c, Listening)

	// Stop phrase and head touch arrive together once recording starts.
	r.StartRecordingFunc = func(ctx context.Context, target string) error {
		r.SetFlag("FrontTactilTouched", true)
		r.Recognize("adios", 0.9)
		return nil
	}
	step(t, c, Farewell)
	step(t, c, Terminated)

	assert.Equal(t, 0, r.ActiveSpotters(), "all spotters released")
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, event.WakePhrase, obs.transitions[0].Trigger.Kind)
	assert.Equal(t, event.StopPhrase, obs.transitions[2].Trigger.Kind)
}

func TestController_DefaultSourcesEndOfSpeech(t *testing.T) {
	r := robot.NewMock()
	c := New(testConfig(), r, stt.NewMock("qué es la gravedad"), completion.NewMock("La gravedad atrae los objetos."))

	go func() {
		for r.ActiveSpotters() == 0 {
			time.Sleep(time.Millisecond)
		}
		r.Recognize("okay", 0.5)
	}()
	step(t, c, Greeting)
	step(t, c, Listening)

	// A stop phrase below the confidence threshold is ignored.
	r.StartRecordingFunc = func(ctx context.Context, target string) error {
		r.Recognize("adios", 0.1)
		r.SetString(robot.RecognizerStatusKey, robot.StatusEndOfProcess)
		return nil
	}
	step(t, c, Recording)
	step(t, c, Listening)

	said := r.Said()
	assert.Equal(t, "La gravedad atrae los objetos.", said[len(said)-1])
}
