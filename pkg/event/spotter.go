package event

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/robot"
)

// WordSpotter raises kind when the recognizer reports one of its phrases
// with at least the configured confidence.
//
// Recognitions arrive on the recognizer's goroutine. They are latched under
// a mutex and handed out by Poll; any that arrive after Release, or that
// belong to an earlier activation, are dropped.
type WordSpotter struct {
	rec       robot.WordRecognizer
	kind      Kind
	phrases   []string
	threshold float64
	logger    *slog.Logger
	now       func() time.Time

	// lifeMu serializes Activate and Release. It is never held while a
	// recognition is being delivered.
	lifeMu sync.Mutex
	stop   func() error

	mu      sync.Mutex
	active  bool
	gen     uint64
	pending *Trigger
}

// NewWordSpotter creates a spotter for phrases. confidence is a percentage
// (0-100) as configured; recognitions strictly below it are ignored.
func NewWordSpotter(rec robot.WordRecognizer, kind Kind, phrases []string, confidence int) *WordSpotter {
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			normalized = append(normalized, p)
		}
	}
	return &WordSpotter{
		rec:       rec,
		kind:      kind,
		phrases:   normalized,
		threshold: float64(confidence) / 100,
		logger:    log.For("event.spotter").With("kind", kind.String()),
		now:       time.Now,
	}
}

func (s *WordSpotter) Name() string { return "spotter:" + s.kind.String() }

// Activate loads the vocabulary and starts listening.
func (s *WordSpotter) Activate(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.stop != nil {
		return nil
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.active = true
	s.pending = nil
	s.mu.Unlock()

	stop, err := s.rec.StartSpotting(ctx, s.phrases, func(r robot.WordRecognition) {
		s.onRecognition(gen, r)
	})
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return err
	}
	s.stop = stop
	s.logger.Debug("spotting started", "phrases", s.phrases)
	return nil
}

func (s *WordSpotter) onRecognition(gen uint64, r robot.WordRecognition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || gen != s.gen {
		return
	}
	if r.Confidence < s.threshold {
		s.logger.Debug("recognition below threshold", "word", r.Word, "confidence", r.Confidence)
		return
	}
	phrase, ok := s.match(r.Word)
	if !ok {
		return
	}
	if s.pending == nil {
		s.pending = &Trigger{Kind: s.kind, Text: phrase, Confidence: r.Confidence, At: s.now()}
	}
}

func (s *WordSpotter) match(word string) (string, bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	for _, p := range s.phrases {
		if word == p || strings.Contains(word, p) {
			return p, true
		}
	}
	return "", false
}

// Poll returns the latched recognition once.
func (s *WordSpotter) Poll(ctx context.Context) (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return Trigger{}, false
	}
	t := *s.pending
	s.pending = nil
	return t, true
}

// Release stops spotting. Recognitions already in flight are ignored.
func (s *WordSpotter) Release() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	s.active = false
	s.pending = nil
	s.mu.Unlock()

	if s.stop == nil {
		return nil
	}
	stop := s.stop
	s.stop = nil
	return stop()
}

var _ Source = (*WordSpotter)(nil)
