package turn

import (
	"time"

	"github.com/teslashibe/go-nao/internal/config"
)

// Config holds the controller's behavior settings.
type Config struct {
	WakeWords  []string
	StopWords  []string
	Confidence int // 0-100

	MaxTokens     int
	SystemContext string
	RobotLanguage string

	Greeting string
	Farewell string
	Apology  string

	PollInterval      time.Duration
	MicrophoneTimeout time.Duration
	ThinkingDuration  time.Duration
	PostureSpeed      float64

	// OutputTimeout bounds the farewell and shutdown outputs, which still
	// run after the session context is cancelled.
	OutputTimeout time.Duration

	// RecordTarget is the clip path on the robot.
	RecordTarget string
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return FromConfig(config.DefaultConfig())
}

// FromConfig derives controller settings from the process configuration.
func FromConfig(c config.Config) Config {
	return Config{
		WakeWords:         c.WakeWords,
		StopWords:         c.StopWords,
		Confidence:        c.Confidence,
		MaxTokens:         c.MaxTokens,
		SystemContext:     c.SystemContext,
		RobotLanguage:     c.RobotLanguage,
		Greeting:          c.Greeting,
		Farewell:          c.Farewell,
		Apology:           c.Apology,
		PollInterval:      c.PollInterval,
		MicrophoneTimeout: c.SilenceTimeout,
		ThinkingDuration:  1500 * time.Millisecond,
		PostureSpeed:      0.5,
		OutputTimeout:     30 * time.Second,
		RecordTarget:      "/home/nao/rec.wav",
	}
}
