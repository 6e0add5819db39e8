// Package event turns robot sensor activity into triggers for the turn
// controller.
//
// Every Source follows the same scoped lifecycle: Activate on entering the
// state that needs it, Poll once per controller tick, Release on leaving.
// Poll never blocks on user activity and returns each trigger at most once.
package event

import (
	"context"
	"time"
)

// Kind identifies what caused a trigger.
type Kind int

const (
	WakePhrase Kind = iota + 1
	StopPhrase
	HeadTouch
	HandTouch
	EndOfSpeech
	Timeout
	RecognitionFailure
)

func (k Kind) String() string {
	switch k {
	case WakePhrase:
		return "wake_phrase"
	case StopPhrase:
		return "stop_phrase"
	case HeadTouch:
		return "head_touch"
	case HandTouch:
		return "hand_touch"
	case EndOfSpeech:
		return "end_of_speech"
	case Timeout:
		return "timeout"
	case RecognitionFailure:
		return "recognition_failure"
	default:
		return "unknown"
	}
}

// EndsSession reports whether the trigger ends the whole session.
func (k Kind) EndsSession() bool {
	return k == HandTouch || k == StopPhrase
}

// Priority orders simultaneous triggers: session-ending before soft
// triggers before the wake phrase.
func (k Kind) Priority() int {
	switch k {
	case HandTouch, StopPhrase:
		return 3
	case HeadTouch, EndOfSpeech:
		return 2
	case WakePhrase:
		return 1
	default:
		return 0
	}
}

// Trigger is one event consumed by a single state transition.
type Trigger struct {
	Kind       Kind
	Text       string  // recognized phrase, if any
	Confidence float64 // 0-1, word triggers only
	At         time.Time
}

// Source is a pollable origin of triggers.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Activate acquires the underlying subscription or baseline.
	// Activating an already active source is a no-op.
	Activate(ctx context.Context) error

	// Poll returns the pending trigger, if any. It does not block
	// waiting for one.
	Poll(ctx context.Context) (Trigger, bool)

	// Release drops the subscription. Safe to call more than once.
	Release() error
}
