package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-nao/pkg/robot"
)

func TestKind_Priority(t *testing.T) {
	assert.Greater(t, HandTouch.Priority(), HeadTouch.Priority())
	assert.Greater(t, StopPhrase.Priority(), EndOfSpeech.Priority())
	assert.Greater(t, HeadTouch.Priority(), WakePhrase.Priority())
	assert.Equal(t, HandTouch.Priority(), StopPhrase.Priority())

	assert.True(t, HandTouch.EndsSession())
	assert.True(t, StopPhrase.EndsSession())
	assert.False(t, HeadTouch.EndsSession())
	assert.False(t, EndOfSpeech.EndsSession())
	assert.Equal(t, "stop_phrase", StopPhrase.String())
}

func TestWordSpotter_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		word       string
		confidence float64
		fire       bool
	}{
		{"above threshold", "hola", 0.60, true},
		{"at threshold", "nao", 0.25, true},
		{"below threshold", "hola", 0.24, false},
		{"not in vocabulary", "banana", 0.90, false},
		{"wrapped phrase", "<...> okay <...>", 0.50, true},
		{"case insensitive", "HOLA", 0.50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := robot.NewMock()
			s := NewWordSpotter(r, WakePhrase, []string{"hola", "okay", "nao"}, 25)
			require.NoError(t, s.Activate(context.Background()))
			defer s.Release()

			r.Recognize(tt.word, tt.confidence)
			trig, ok := s.Poll(context.Background())
			assert.Equal(t, tt.fire, ok)
			if tt.fire {
				assert.Equal(t, WakePhrase, trig.Kind)
				assert.InDelta(t, tt.confidence, trig.Confidence, 1e-9)
			}
		})
	}
}

func TestWordSpotter_PollIsIdempotent(t *testing.T) {
	r := robot.NewMock()
	s := NewWordSpotter(r, StopPhrase, []string{"adios"}, 25)
	require.NoError(t, s.Activate(context.Background()))
	defer s.Release()

	r.Recognize("adios", 0.9)
	r.Recognize("adios", 0.8)

	trig, ok := s.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, "adios", trig.Text)

	for i := 0; i < 3; i++ {
		_, ok := s.Poll(context.Background())
		assert.False(t, ok, "poll %d should be empty", i)
	}
}

func TestWordSpotter_IgnoresAfterRelease(t *testing.T) {
	r := robot.NewMock()
	s := NewWordSpotter(r, WakePhrase, []string{"hola"}, 25)

	var captured func(robot.WordRecognition)
	rec := &captureRecognizer{Mock: r, capture: func(h func(robot.WordRecognition)) { captured = h }}
	s.rec = rec

	require.NoError(t, s.Activate(context.Background()))
	require.NoError(t, s.Release())

	// A notification racing with teardown arrives after Release.
	captured(robot.WordRecognition{Word: "hola", Confidence: 0.9})
	_, ok := s.Poll(context.Background())
	assert.False(t, ok)

	// It must not leak into the next activation either.
	stale := captured
	require.NoError(t, s.Activate(context.Background()))
	captured2 := captured
	defer s.Release()
	_, ok = s.Poll(context.Background())
	assert.False(t, ok)

	stale(robot.WordRecognition{Word: "hola", Confidence: 0.9})
	_, ok = s.Poll(context.Background())
	assert.False(t, ok, "handler from an earlier activation must be ignored")

	captured2(robot.WordRecognition{Word: "hola", Confidence: 0.9})
	_, ok = s.Poll(context.Background())
	assert.True(t, ok)
}

// captureRecognizer exposes the handler so tests can deliver late notifications.
type captureRecognizer struct {
	*robot.Mock
	capture func(func(robot.WordRecognition))
}

func (c *captureRecognizer) StartSpotting(ctx context.Context, vocab []string, h func(robot.WordRecognition)) (func() error, error) {
	c.capture(h)
	return c.Mock.StartSpotting(ctx, vocab, h)
}

func TestWordSpotter_NoDoubleSubscribe(t *testing.T) {
	r := robot.NewMock()
	s := NewWordSpotter(r, WakePhrase, []string{"hola"}, 25)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx))
	require.NoError(t, s.Activate(ctx))
	assert.Equal(t, 1, r.ActiveSpotters())
	assert.Equal(t, 1, r.CallCount("StartSpotting"))

	// One recognition, one trigger.
	r.Recognize("hola", 0.5)
	_, ok := s.Poll(ctx)
	assert.True(t, ok)
	_, ok = s.Poll(ctx)
	assert.False(t, ok)

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Equal(t, 0, r.ActiveSpotters())
	assert.Equal(t, 1, r.CallCount("StopSpotting"))

	// Re-entering the state subscribes again.
	require.NoError(t, s.Activate(ctx))
	assert.Equal(t, 1, r.ActiveSpotters())
	require.NoError(t, s.Release())
}

func TestWordSpotter_ActivateError(t *testing.T) {
	r := robot.NewMock()
	r.Fail("StartSpotting", errors.New("recognizer busy"))
	s := NewWordSpotter(r, WakePhrase, []string{"hola"}, 25)

	require.Error(t, s.Activate(context.Background()))
	r.Recognize("hola", 0.9)
	_, ok := s.Poll(context.Background())
	assert.False(t, ok)
	assert.NoError(t, s.Release())
}

func TestWordSpotter_ConcurrentNotifications(t *testing.T) {
	r := robot.NewMock()
	s := NewWordSpotter(r, WakePhrase, []string{"hola"}, 25)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Recognize("hola", 0.9)
		}()
		go func() {
			defer wg.Done()
			_ = s.Activate(ctx)
			s.Poll(ctx)
			_ = s.Release()
		}()
	}
	wg.Wait()
	_, ok := s.Poll(ctx)
	assert.False(t, ok)
}

func TestTouchSource_EdgeTriggered(t *testing.T) {
	r := robot.NewMock()
	s := NewHeadTouch(r)
	ctx := context.Background()

	// Held from before activation: no trigger.
	r.SetFlag("MiddleTactilTouched", true)
	require.NoError(t, s.Activate(ctx))
	_, ok := s.Poll(ctx)
	assert.False(t, ok)

	// Release then press again: one trigger.
	r.SetFlag("MiddleTactilTouched", false)
	_, ok = s.Poll(ctx)
	assert.False(t, ok)

	r.SetFlag("RearTactilTouched", true)
	trig, ok := s.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, HeadTouch, trig.Kind)

	// Still held: no repeat.
	_, ok = s.Poll(ctx)
	assert.False(t, ok)

	require.NoError(t, s.Release())
	r.SetFlag("RearTactilTouched", false)
	r.SetFlag("FrontTactilTouched", true)
	_, ok = s.Poll(ctx)
	assert.False(t, ok, "released source must not fire")
}

func TestTouchSource_ReadErrorIsReleased(t *testing.T) {
	r := robot.NewMock()
	s := NewHandTouch(r)
	ctx := context.Background()
	require.NoError(t, s.Activate(ctx))

	r.SetFlag("HandLeftBackTouched", true)
	r.Fail("ReadFlag", errors.New("bridge hiccup"))
	_, ok := s.Poll(ctx)
	assert.False(t, ok)

	r.Fail("ReadFlag", nil)
	trig, ok := s.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, HandTouch, trig.Kind)
}

func TestStatusSource(t *testing.T) {
	r := robot.NewMock()
	s := NewSpeechStatus(r)
	ctx := context.Background()

	r.SetString(robot.RecognizerStatusKey, robot.StatusStop)
	require.NoError(t, s.Activate(ctx))
	_, ok := s.Poll(ctx)
	assert.False(t, ok, "stale status from before activation")

	r.SetString(robot.RecognizerStatusKey, "SpeechDetected")
	_, ok = s.Poll(ctx)
	assert.False(t, ok)

	r.SetString(robot.RecognizerStatusKey, robot.StatusEndOfProcess)
	trig, ok := s.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, EndOfSpeech, trig.Kind)

	_, ok = s.Poll(ctx)
	assert.False(t, ok)
}

// stubSource fires a fixed trigger on every poll.
type stubSource struct {
	kind      Kind
	fire      bool
	polls     int
	activated bool
	err       error
}

func (s *stubSource) Name() string { return "stub:" + s.kind.String() }
func (s *stubSource) Activate(context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.activated = true
	return nil
}
func (s *stubSource) Poll(context.Context) (Trigger, bool) {
	s.polls++
	return Trigger{Kind: s.kind}, s.fire
}
func (s *stubSource) Release() error {
	s.activated = false
	return nil
}

func TestSet_PriorityArbitration(t *testing.T) {
	tests := []struct {
		name    string
		sources []*stubSource
		want    Kind
	}{
		{
			name:    "stop phrase beats head touch",
			sources: []*stubSource{{kind: HeadTouch, fire: true}, {kind: StopPhrase, fire: true}},
			want:    StopPhrase,
		},
		{
			name:    "hand touch beats end of speech",
			sources: []*stubSource{{kind: EndOfSpeech, fire: true}, {kind: HandTouch, fire: true}},
			want:    HandTouch,
		},
		{
			name:    "head touch beats wake phrase",
			sources: []*stubSource{{kind: WakePhrase, fire: true}, {kind: HeadTouch, fire: true}},
			want:    HeadTouch,
		},
		{
			name:    "first of equal priority",
			sources: []*stubSource{{kind: EndOfSpeech, fire: true}, {kind: HeadTouch, fire: true}},
			want:    EndOfSpeech,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srcs := make([]Source, len(tt.sources))
			for i, s := range tt.sources {
				srcs[i] = s
			}
			trig, ok := NewSet(srcs...).Poll(context.Background())
			require.True(t, ok)
			assert.Equal(t, tt.want, trig.Kind)
			for _, s := range tt.sources {
				assert.Equal(t, 1, s.polls, "every source is polled each tick")
			}
		})
	}
}

func TestSet_ScopeReleasesOnError(t *testing.T) {
	a := &stubSource{kind: HeadTouch}
	b := &stubSource{kind: HandTouch}
	set := NewSet(a, b)

	boom := errors.New("boom")
	err := set.Scope(context.Background(), func() error {
		assert.True(t, a.activated)
		assert.True(t, b.activated)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, a.activated)
	assert.False(t, b.activated)
}

func TestSet_ActivateRollsBack(t *testing.T) {
	a := &stubSource{kind: HeadTouch}
	b := &stubSource{kind: HandTouch, err: errors.New("sensor offline")}
	set := NewSet(a, b)

	err := set.Activate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stub:hand_touch")
	assert.False(t, a.activated)
}
