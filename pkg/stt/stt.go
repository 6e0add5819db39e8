// Package stt provides the speech-to-text collaborator.
package stt

import (
	"context"
	"errors"

	"github.com/teslashibe/go-nao/pkg/robot"
)

// ErrNoMatch is returned when the audio contains no intelligible speech.
var ErrNoMatch = errors.New("stt: no match found")

// Transcriber converts a recorded clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip robot.Clip) (string, error)
}
