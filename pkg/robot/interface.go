// Package robot provides typed interfaces over the humanoid robot's
// capabilities and an adapter that drives them through the robot bridge.
//
// Like the rest of go-nao, consumers depend only on the small interface they
// actually use: the turn controller needs Speech, Posture, Indicators and
// Autonomy for output, while event sources need only Sensors or
// WordRecognizer.
package robot

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned when a call is made before Dial succeeded.
	ErrNotConnected = errors.New("robot: not connected")

	// ErrClosed is returned for calls pending when the link closes.
	ErrClosed = errors.New("robot: link closed")

	// ErrMicrophoneTimeout is returned by StartRecording when the microphone
	// could not be opened in time. It is recoverable: callers retry.
	ErrMicrophoneTimeout = errors.New("robot: microphone timeout")

	// ErrNotRecording is returned by StopRecording without a prior StartRecording.
	ErrNotRecording = errors.New("robot: not recording")
)

// Postures used by the voice session.
const (
	PostureStandInit = "StandInit"
	PostureCrouch    = "Crouch"
)

// Indicator groups and animations.
const (
	LedsAll     = "AllLeds"
	LedsAllBlue = "AllLedsBlue"
	LedsAllRed  = "AllLedsRed"
	LedsEars    = "EarLeds"

	AnimationThinking = "rasta"
)

// LifeSolitary is the autonomous-life state used while a session is active.
const LifeSolitary = "solitary"

// Memory keys read by the event sources.
var (
	HeadTouchKeys = []string{
		"FrontTactilTouched",
		"MiddleTactilTouched",
		"RearTactilTouched",
	}
	HandTouchKeys = []string{
		"HandRightBackTouched",
		"HandRightLeftTouched",
		"HandRightRightTouched",
		"HandLeftBackTouched",
		"HandLeftLeftTouched",
		"HandLeftRightTouched",
	}
)

// Recognizer status reported under RecognizerStatusKey.
const (
	RecognizerStatusKey = "ALSpeechRecognition/Status"
	StatusEndOfProcess  = "EndOfProcess"
	StatusStop          = "Stop"
)

// SpeechMode selects plain or gesture-accompanied speech.
type SpeechMode int

const (
	ModeNormal SpeechMode = iota
	ModeAnimated
)

func (m SpeechMode) String() string {
	if m == ModeAnimated {
		return "animated"
	}
	return "normal"
}

// Speech speaks text. Say returns after the utterance completes.
type Speech interface {
	SetLanguage(ctx context.Context, language string) error
	Say(ctx context.Context, text string, mode SpeechMode) error
}

// Posture moves the robot to a named posture at a speed in [0, 1].
type Posture interface {
	GoToPosture(ctx context.Context, name string, speed float64) error
}

// Indicators controls LED groups. Callers treat failures as non-fatal.
type Indicators interface {
	On(ctx context.Context, group string) error
	Off(ctx context.Context, group string) error
	SetIntensity(ctx context.Context, group string, intensity float64) error
	Animate(ctx context.Context, name string, duration time.Duration) error
}

// Autonomy sets the robot's autonomous-life state.
type Autonomy interface {
	SetLifeState(ctx context.Context, state string) error
}

// Sensors reads values from the robot's shared memory.
type Sensors interface {
	ReadFlag(ctx context.Context, key string) (bool, error)
	ReadString(ctx context.Context, key string) (string, error)
}

// WordRecognition is one word-spotting notification.
// Confidence is in [0, 1].
type WordRecognition struct {
	Word       string
	Confidence float64
}

// WordRecognizer spots vocabulary words. handler may be called from another
// goroutine until stop returns.
type WordRecognizer interface {
	StartSpotting(ctx context.Context, vocabulary []string, handler func(WordRecognition)) (stop func() error, err error)
}

// Clip is a recorded audio buffer.
type Clip struct {
	Target     string
	Format     string // "wav"
	SampleRate int
	Data       []byte
}

// Recorder captures microphone audio into a transient buffer.
type Recorder interface {
	StartRecording(ctx context.Context, target string) error
	StopRecording(ctx context.Context) (Clip, error)
}

// Output is everything the turn controller drives.
type Output interface {
	Speech
	Posture
	Indicators
	Autonomy
}

// Robot is the composite interface for the full robot.
type Robot interface {
	Output
	Sensors
	WordRecognizer
	Recorder
}

// Ensure Link implements Robot
var _ Robot = (*Link)(nil)
