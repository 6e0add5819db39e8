// Package turn implements the session state machine that drives a voice
// conversation with the robot: waiting for a wake trigger, greeting,
// listening, answering, and saying goodbye.
package turn

import (
	"errors"
	"time"

	"github.com/teslashibe/go-nao/internal/config"
	"github.com/teslashibe/go-nao/pkg/completion"
	"github.com/teslashibe/go-nao/pkg/event"
	"github.com/teslashibe/go-nao/pkg/robot"
	"github.com/teslashibe/go-nao/pkg/stt"
)

// State is the session state.
type State int

const (
	Idle State = iota
	Greeting
	Listening
	Recording
	Farewell
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Greeting:
		return "greeting"
	case Listening:
		return "listening"
	case Recording:
		return "recording"
	case Farewell:
		return "farewell"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// FailureKind classifies errors the controller absorbs or aborts on.
type FailureKind int

const (
	HardwareCallFailure FailureKind = iota + 1
	RecognitionFailure
	TransportFailure
	ConfigurationFailure
)

func (k FailureKind) String() string {
	switch k {
	case HardwareCallFailure:
		return "hardware"
	case RecognitionFailure:
		return "recognition"
	case TransportFailure:
		return "transport"
	case ConfigurationFailure:
		return "configuration"
	default:
		return "none"
	}
}

// Fatal reports whether the failure must abort startup.
func (k FailureKind) Fatal() bool {
	return k == ConfigurationFailure
}

// Classify maps an error onto the failure taxonomy. A nil error has no kind.
// Anything not recognized as a robot, recognition or configuration error is
// treated as a transport failure.
func Classify(err error) FailureKind {
	if err == nil {
		return 0
	}

	var cfgErr *config.ConfigError
	var callErr *robot.CallError
	switch {
	case errors.As(err, &cfgErr), errors.Is(err, completion.ErrNoAPIKey):
		return ConfigurationFailure
	case errors.Is(err, stt.ErrNoMatch):
		return RecognitionFailure
	case errors.As(err, &callErr),
		errors.Is(err, robot.ErrClosed),
		errors.Is(err, robot.ErrNotConnected),
		errors.Is(err, robot.ErrMicrophoneTimeout),
		errors.Is(err, robot.ErrNotRecording):
		return HardwareCallFailure
	default:
		return TransportFailure
	}
}

// Transition describes one state change.
type Transition struct {
	Session string
	From    State
	To      State
	Trigger *event.Trigger // nil for unconditional transitions
	At      time.Time
}

// Exchange is one answered question.
type Exchange struct {
	Session  string
	Question string
	Answer   string
	At       time.Time
}

// Observer is notified of controller activity. Calls are made from the
// controller goroutine and must not block.
type Observer interface {
	OnTransition(t Transition)
	OnExchange(e Exchange)
	OnFailure(kind FailureKind, err error)
}
