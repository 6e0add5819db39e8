package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/completion"
	"github.com/teslashibe/go-nao/pkg/conversation"
	"github.com/teslashibe/go-nao/pkg/event"
	"github.com/teslashibe/go-nao/pkg/metrics"
	"github.com/teslashibe/go-nao/pkg/robot"
	"github.com/teslashibe/go-nao/pkg/stt"
)

// Turn outcomes recorded in metrics.
const (
	outcomeAnswered   = "answered"
	outcomeApology    = "apology"
	outcomeNoMatch    = "no_match"
	outcomeStopPhrase = "stop_phrase"
)

// Controller owns the session state and drives the robot through it.
// Run and Step must be called from a single goroutine; State and Session
// may be read from any goroutine.
type Controller struct {
	cfg Config
	out robot.Output
	rec robot.Recorder
	stt stt.Transcriber
	llm completion.Provider
	mem *conversation.Memory

	idle      *event.Set
	listening *event.Set

	metrics   *metrics.Metrics
	observers []Observer
	logger    *slog.Logger
	session   string

	mu    sync.RWMutex
	state State

	listeningActive bool

	recording bool
	clip      robot.Clip
	clipErr   error
}

// Option configures a Controller.
type Option func(*Controller)

// WithMemory replaces the default conversation memory.
func WithMemory(m *conversation.Memory) Option {
	return func(c *Controller) { c.mem = m }
}

// WithSources replaces the trigger sources used in Idle and Listening.
func WithSources(idle, listening *event.Set) Option {
	return func(c *Controller) {
		c.idle = idle
		c.listening = listening
	}
}

// WithMetrics records controller activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller in Idle. By default Idle listens for a wake
// phrase or any touch, and Listening for a stop phrase, any touch or the
// end of an utterance.
func New(cfg Config, r robot.Robot, t stt.Transcriber, p completion.Provider, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		out:     r,
		rec:     r,
		stt:     t,
		llm:     p,
		session: uuid.NewString(),
		state:   Idle,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.mem == nil {
		c.mem = conversation.New()
	}
	if c.idle == nil {
		c.idle = event.NewSet(
			event.NewWordSpotter(r, event.WakePhrase, cfg.WakeWords, cfg.Confidence),
			event.NewHandTouch(r),
			event.NewHeadTouch(r),
		)
	}
	if c.listening == nil {
		c.listening = event.NewSet(
			event.NewWordSpotter(r, event.StopPhrase, cfg.StopWords, cfg.Confidence),
			event.NewHandTouch(r),
			event.NewHeadTouch(r),
			event.NewSpeechStatus(r),
		)
	}
	if c.logger == nil {
		c.logger = log.For("turn.controller")
	}
	c.logger = c.logger.With("session", c.session)
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Session returns the session id.
func (c *Controller) Session() string {
	return c.session
}

// Memory returns the conversation memory.
func (c *Controller) Memory() *conversation.Memory {
	return c.mem
}

// Run prepares the robot and steps the machine until Terminated.
// Cancelling ctx moves the session through Farewell.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("session starting")
	c.startup(ctx)

	for c.State() != Terminated {
		c.Step(ctx)
	}

	c.logger.Info("session ended", "turns", c.mem.Len())
	return nil
}

// Step performs the work of the current state and applies one transition.
// It returns the new state. Step in Terminated does nothing.
func (c *Controller) Step(ctx context.Context) State {
	switch c.State() {
	case Idle:
		c.stepIdle(ctx)
	case Greeting:
		c.stepGreeting(ctx)
	case Listening:
		c.stepListening(ctx)
	case Recording:
		c.stepRecording(ctx)
	case Farewell:
		c.stepFarewell(ctx)
	}
	return c.State()
}

func (c *Controller) stepIdle(ctx context.Context) {
	if ctx.Err() != nil {
		c.endIdle(ctx)
		return
	}

	if err := c.idle.Activate(ctx); err != nil {
		c.hardware("activate idle sources", err)
		c.sleep(ctx)
		return
	}
	defer c.release("idle", c.idle)

	c.logger.Info("waiting for wake phrase or touch")
	trig, err := c.await(ctx, c.idle)
	if err != nil {
		c.endIdle(ctx)
		return
	}
	c.transition(Greeting, &trig)
}

// endIdle ends a session that never greeted: no goodbye, just rest.
func (c *Controller) endIdle(ctx context.Context) {
	octx, cancel := c.outputContext(ctx)
	defer cancel()
	c.shutdown(octx)
	c.transition(Terminated, nil)
}

func (c *Controller) stepGreeting(ctx context.Context) {
	c.greet(ctx)
	c.transition(Listening, nil)
}

// stepListening records one utterance. The listening sources stay active
// while the microphone fails to open, so a stop phrase or hand touch can
// still end the session between retries.
func (c *Controller) stepListening(ctx context.Context) {
	if ctx.Err() != nil {
		c.leaveListening(Farewell, nil)
		return
	}

	if !c.listeningActive {
		if err := c.listening.Activate(ctx); err != nil {
			c.hardware("activate listening sources", err)
			c.sleep(ctx)
			return
		}
		c.listeningActive = true
	}

	if err := c.startRecording(ctx); err != nil {
		if ctx.Err() != nil {
			c.leaveListening(Farewell, nil)
			return
		}
		if errors.Is(err, robot.ErrMicrophoneTimeout) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("microphone timeout, retrying", "error", err)
			c.metrics.ObserveTrigger(event.Timeout.String())
			c.failure(HardwareCallFailure, err)
			c.showTimeout(ctx)
		} else {
			c.hardware("StartRecording", err)
		}

		trig, ok := c.pollFor(ctx, c.listening, c.cfg.PollInterval)
		switch {
		case ok && trig.Kind.EndsSession():
			c.leaveListening(Farewell, &trig)
		case ok:
			c.logger.Debug("nothing recorded, ignoring trigger", "trigger", trig.Kind.String())
		}
		return
	}
	c.showListening(ctx)

	trig, err := c.await(ctx, c.listening)
	if err != nil {
		c.leaveListening(Farewell, nil)
		return
	}

	c.stopRecording(ctx)
	if trig.Kind.EndsSession() {
		c.clip, c.clipErr = robot.Clip{}, nil
		c.leaveListening(Farewell, &trig)
		return
	}
	c.leaveListening(Recording, &trig)
}

func (c *Controller) leaveListening(to State, trig *event.Trigger) {
	if c.listeningActive {
		c.release("listening", c.listening)
		c.listeningActive = false
	}
	c.transition(to, trig)
}

func (c *Controller) stepRecording(ctx context.Context) {
	c.stopRecording(ctx)
	clip, clipErr := c.clip, c.clipErr
	c.clip, c.clipErr = robot.Clip{}, nil

	if clipErr != nil {
		c.metrics.ObserveTurn(outcomeApology)
		c.apologize(ctx)
		c.transition(Listening, nil)
		return
	}

	text, err := c.stt.Transcribe(ctx, clip)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = stt.ErrNoMatch
	}
	if err != nil {
		if ctx.Err() != nil {
			c.transition(Farewell, nil)
			return
		}
		kind := Classify(err)
		c.failure(kind, err)
		if kind == RecognitionFailure {
			c.logger.Info("no speech recognized, discarding turn")
			c.metrics.ObserveTurn(outcomeNoMatch)
			c.transition(Listening, &event.Trigger{Kind: event.RecognitionFailure, At: time.Now()})
			return
		}
		c.logger.Warn("transcription failed", "error", err)
		c.metrics.ObserveTurn(outcomeApology)
		c.apologize(ctx)
		c.transition(Listening, nil)
		return
	}

	c.logger.Info("user said", "text", text)

	if phrase, ok := findPhrase(text, c.cfg.StopWords); ok {
		c.metrics.ObserveTurn(outcomeStopPhrase)
		c.transition(Farewell, &event.Trigger{Kind: event.StopPhrase, Text: phrase, Confidence: 1, At: time.Now()})
		return
	}

	answer, ok := c.answer(ctx, text)
	if ctx.Err() != nil {
		c.logger.Info("session cancelled, discarding answer")
		c.transition(Farewell, nil)
		return
	}
	if !ok {
		c.metrics.ObserveTurn(outcomeApology)
		c.apologize(ctx)
		c.transition(Listening, nil)
		return
	}

	c.metrics.ObserveTurn(outcomeAnswered)
	c.hardware("Say", c.out.Say(ctx, answer, robot.ModeAnimated))
	c.transition(Listening, nil)
}

// answer asks the completion provider about question and records the
// exchange. It reports false when no usable answer was produced.
func (c *Controller) answer(ctx context.Context, question string) (string, bool) {
	prompt := c.mem.BuildPrompt(question, c.cfg.SystemContext)

	c.hardware("Animate", c.out.Animate(ctx, robot.AnimationThinking, c.cfg.ThinkingDuration))

	// An outstanding request is never cancelled; the provider's own
	// timeout bounds it.
	start := time.Now()
	resp, err := c.llm.Complete(context.WithoutCancel(ctx), &completion.Request{
		Prompt:    prompt,
		MaxTokens: c.cfg.MaxTokens,
	})
	c.metrics.ObserveCompletion(time.Since(start))
	if err != nil {
		c.logger.Warn("completion failed", "error", err, "latency", time.Since(start))
		c.failure(Classify(err), err)
		return "", false
	}

	answer := strings.TrimSpace(conversation.ExtractTerminatedAnswer(resp.Text))
	if answer == "" {
		c.logger.Warn("completion had no complete sentence", "raw", resp.Text)
		return "", false
	}

	c.mem.RecordQuestion(question)
	c.mem.RecordAnswer(answer)
	c.logger.Info("answering", "text", answer, "provider", resp.Provider, "latency", time.Since(start))

	ex := Exchange{Session: c.session, Question: question, Answer: answer, At: time.Now()}
	for _, o := range c.observers {
		o.OnExchange(ex)
	}
	return answer, true
}

func (c *Controller) stepFarewell(ctx context.Context) {
	octx, cancel := c.outputContext(ctx)
	defer cancel()

	c.stopRecording(octx)
	c.clip, c.clipErr = robot.Clip{}, nil

	c.hardware("Say", c.out.Say(octx, c.cfg.Farewell, robot.ModeAnimated))
	c.hardware("GoToPosture", c.out.GoToPosture(octx, robot.PostureCrouch, c.cfg.PostureSpeed))
	c.shutdown(octx)
	c.transition(Terminated, nil)
}

// await polls set every PollInterval until it yields a trigger.
func (c *Controller) await(ctx context.Context, set *event.Set) (event.Trigger, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if trig, ok := set.Poll(ctx); ok {
			return trig, nil
		}
		select {
		case <-ctx.Done():
			return event.Trigger{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollFor polls set until it yields a trigger or d has passed.
func (c *Controller) pollFor(ctx context.Context, set *event.Set, d time.Duration) (event.Trigger, bool) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if trig, ok := set.Poll(ctx); ok {
			return trig, true
		}
		select {
		case <-ctx.Done():
			return event.Trigger{}, false
		case <-deadline.C:
			return event.Trigger{}, false
		case <-ticker.C:
		}
	}
}

func (c *Controller) startRecording(ctx context.Context) error {
	if c.recording {
		return nil
	}
	openCtx := ctx
	if c.cfg.MicrophoneTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, c.cfg.MicrophoneTimeout)
		defer cancel()
	}
	if err := c.rec.StartRecording(openCtx, c.cfg.RecordTarget); err != nil {
		return err
	}
	c.recording = true
	return nil
}

// stopRecording stops an active recording and keeps the clip for Recording.
func (c *Controller) stopRecording(ctx context.Context) {
	if !c.recording {
		return
	}
	c.recording = false
	c.clip, c.clipErr = c.rec.StopRecording(ctx)
	if c.clipErr != nil {
		c.hardware("StopRecording", c.clipErr)
	}
}

func (c *Controller) release(name string, set *event.Set) {
	if err := set.Release(); err != nil {
		c.logger.Warn("release sources failed", "sources", name, "error", err)
	}
}

func (c *Controller) transition(to State, trig *event.Trigger) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	attrs := []any{"from", from.String(), "to", to.String()}
	if trig != nil {
		attrs = append(attrs, "trigger", trig.Kind.String())
		if trig.Text != "" {
			attrs = append(attrs, "text", trig.Text)
		}
		c.metrics.ObserveTrigger(trig.Kind.String())
	}
	c.logger.Info("state transition", attrs...)
	c.metrics.ObserveTransition(from.String(), to.String())

	t := Transition{Session: c.session, From: from, To: to, Trigger: trig, At: time.Now()}
	for _, o := range c.observers {
		o.OnTransition(t)
	}
}

// hardware logs a failed robot call. It never interrupts the session.
func (c *Controller) hardware(call string, err error) {
	if err == nil {
		return
	}
	c.logger.Warn("robot call failed", "call", call, "error", err)
	c.failure(HardwareCallFailure, err)
}

func (c *Controller) failure(kind FailureKind, err error) {
	c.metrics.ObserveFailure(kind.String())
	for _, o := range c.observers {
		o.OnFailure(kind, err)
	}
}

func (c *Controller) sleep(ctx context.Context) {
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// outputContext survives cancellation of ctx so the goodbye still plays.
func (c *Controller) outputContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OutputTimeout)
}
