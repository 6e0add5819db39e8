package stt

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"

	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/robot"
)

// DefaultTimeout bounds a single recognition request.
const DefaultTimeout = 20 * time.Second

// GoogleConfig configures the Google Cloud Speech transcriber.
// One of APIKey or CredentialsFile is required.
type GoogleConfig struct {
	Language        string // BCP-47, e.g. "es-CR"
	APIKey          string
	CredentialsFile string // service-account JSON
	Timeout         time.Duration

	// Options are appended after the credential options. Tests use them
	// to point the client at a local server.
	Options []option.ClientOption
}

// Google transcribes clips with the Cloud Speech v1 REST API.
type Google struct {
	svc     *speech.Service
	lang    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGoogle creates a Google transcriber.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.Language == "" {
		return nil, fmt.Errorf("stt: language is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("stt: read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, speech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("stt: parse credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	opts = append(opts, cfg.Options...)
	if len(opts) == 0 {
		return nil, fmt.Errorf("stt: an API key or credentials file is required")
	}

	svc, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("stt: create speech service: %w", err)
	}

	return &Google{
		svc:     svc,
		lang:    cfg.Language,
		timeout: cfg.Timeout,
		logger:  log.For("stt.google"),
	}, nil
}

// Transcribe returns the best transcript for clip, or ErrNoMatch.
func (g *Google) Transcribe(ctx context.Context, clip robot.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", ErrNoMatch
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cfg := &speech.RecognitionConfig{
		Encoding:     "LINEAR16",
		LanguageCode: g.lang,
	}
	if clip.SampleRate > 0 {
		cfg.SampleRateHertz = int64(clip.SampleRate)
	}

	start := time.Now()
	resp, err := g.svc.Speech.Recognize(&speech.RecognizeRequest{
		Config: cfg,
		Audio:  &speech.RecognitionAudio{Content: base64.StdEncoding.EncodeToString(clip.Data)},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("stt: recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoMatch
	}

	text := strings.Join(parts, " ")
	g.logger.Debug("transcribed", "chars", len(text), "latency", time.Since(start))
	return text, nil
}

var _ Transcriber = (*Google)(nil)
