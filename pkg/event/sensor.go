package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/robot"
)

// TouchSource raises kind when any of its tactile keys goes from released
// to pressed. The state seen at Activate is the baseline, so a press held
// across a state change does not fire again.
type TouchSource struct {
	sensors robot.Sensors
	kind    Kind
	keys    []string
	logger  *slog.Logger
	now     func() time.Time

	active  bool
	pressed map[string]bool
}

// NewTouchSource creates a touch source over keys.
func NewTouchSource(sensors robot.Sensors, kind Kind, keys []string) *TouchSource {
	return &TouchSource{
		sensors: sensors,
		kind:    kind,
		keys:    keys,
		logger:  log.For("event.touch").With("kind", kind.String()),
		now:     time.Now,
		pressed: make(map[string]bool, len(keys)),
	}
}

// NewHeadTouch watches the three head tactile sensors.
func NewHeadTouch(sensors robot.Sensors) *TouchSource {
	return NewTouchSource(sensors, HeadTouch, robot.HeadTouchKeys)
}

// NewHandTouch watches the six hand tactile sensors.
func NewHandTouch(sensors robot.Sensors) *TouchSource {
	return NewTouchSource(sensors, HandTouch, robot.HandTouchKeys)
}

func (s *TouchSource) Name() string { return "touch:" + s.kind.String() }

func (s *TouchSource) Activate(ctx context.Context) error {
	if s.active {
		return nil
	}
	for _, key := range s.keys {
		s.pressed[key] = s.read(ctx, key)
	}
	s.active = true
	return nil
}

func (s *TouchSource) Poll(ctx context.Context) (Trigger, bool) {
	if !s.active {
		return Trigger{}, false
	}
	fired := false
	for _, key := range s.keys {
		now := s.read(ctx, key)
		if now && !s.pressed[key] {
			fired = true
		}
		s.pressed[key] = now
	}
	if !fired {
		return Trigger{}, false
	}
	return Trigger{Kind: s.kind, At: s.now()}, true
}

// read treats an unreadable sensor as released.
func (s *TouchSource) read(ctx context.Context, key string) bool {
	v, err := s.sensors.ReadFlag(ctx, key)
	if err != nil {
		s.logger.Warn("sensor read failed", "key", key, "error", err)
		return false
	}
	return v
}

func (s *TouchSource) Release() error {
	s.active = false
	clear(s.pressed)
	return nil
}

// StatusSource raises EndOfSpeech when the recognizer status becomes one of
// the end-of-utterance values.
type StatusSource struct {
	sensors robot.Sensors
	key     string
	ends    map[string]bool
	logger  *slog.Logger
	now     func() time.Time

	active bool
	ended  bool
}

// NewSpeechStatus watches the speech recognizer status key.
func NewSpeechStatus(sensors robot.Sensors) *StatusSource {
	return &StatusSource{
		sensors: sensors,
		key:     robot.RecognizerStatusKey,
		ends: map[string]bool{
			robot.StatusEndOfProcess: true,
			robot.StatusStop:         true,
		},
		logger: log.For("event.status"),
		now:    time.Now,
	}
}

func (s *StatusSource) Name() string { return "status:" + EndOfSpeech.String() }

func (s *StatusSource) Activate(ctx context.Context) error {
	if s.active {
		return nil
	}
	s.ended = s.read(ctx)
	s.active = true
	return nil
}

func (s *StatusSource) Poll(ctx context.Context) (Trigger, bool) {
	if !s.active {
		return Trigger{}, false
	}
	ended := s.read(ctx)
	rising := ended && !s.ended
	s.ended = ended
	if !rising {
		return Trigger{}, false
	}
	return Trigger{Kind: EndOfSpeech, At: s.now()}, true
}

func (s *StatusSource) read(ctx context.Context) bool {
	status, err := s.sensors.ReadString(ctx, s.key)
	if err != nil {
		s.logger.Debug("status read failed", "error", err)
		return false
	}
	return s.ends[status]
}

func (s *StatusSource) Release() error {
	s.active = false
	s.ended = false
	return nil
}

var (
	_ Source = (*TouchSource)(nil)
	_ Source = (*StatusSource)(nil)
)
