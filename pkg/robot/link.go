package robot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/protocol"
)

const (
	// DefaultCallTimeout bounds a single bridge call. Speech and posture
	// calls block on the robot until the motion or utterance completes.
	DefaultCallTimeout = 30 * time.Second

	writeWait      = 10 * time.Second
	abortTimeout   = 5 * time.Second
	maxMessageSize = 8 << 20 // recorded clips travel base64-encoded
)

// Bridge method names.
const (
	methodSetLanguage   = "ALTextToSpeech.setLanguage"
	methodSay           = "ALTextToSpeech.say"
	methodAnimatedSay   = "ALAnimatedSpeech.say"
	methodGoToPosture   = "ALRobotPosture.goToPosture"
	methodLedsOn        = "ALLeds.on"
	methodLedsOff       = "ALLeds.off"
	methodLedsIntensity = "ALLeds.setIntensity"
	methodLifeState     = "ALAutonomousLife.setState"
	methodGetData       = "ALMemory.getData"
	methodASRPause      = "ALSpeechRecognition.pause"
	methodASRVocabulary = "ALSpeechRecognition.setVocabulary"
	methodStartRecord   = "ALAudioDevice.startMicrophonesRecording"
	methodStopRecord    = "ALAudioDevice.stopMicrophonesRecording"
	methodFetchFile     = "bridge.fetchFile"

	eventWordRecognized = "WordRecognized"
)

// CallError is returned when the bridge reports a failed call.
type CallError struct {
	Method  string
	Message string
	Code    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("robot: %s failed: %s", e.Method, e.Message)
}

// Unwrap maps bridge result codes onto sentinel errors.
func (e *CallError) Unwrap() error {
	if e.Code == protocol.CodeTimeout {
		return ErrMicrophoneTimeout
	}
	return nil
}

// LinkConfig configures a Link.
type LinkConfig struct {
	URL              string
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration
	SampleRate       int
}

// DefaultLinkConfig returns the configuration for a bridge at url.
func DefaultLinkConfig(url string) LinkConfig {
	return LinkConfig{
		URL:              url,
		CallTimeout:      DefaultCallTimeout,
		HandshakeTimeout: 5 * time.Second,
		SampleRate:       16000,
	}
}

// Link is a websocket connection to the robot bridge. It implements Robot.
//
// Calls are correlated by ID so any number of goroutines may call
// concurrently; events are dispatched from the read goroutine.
type Link struct {
	cfg    LinkConfig
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan protocol.ResultData
	handlers map[string]map[string]func(json.RawMessage) // event -> id -> handler
	target   string                                      // active recording

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the bridge and starts the read goroutine.
func Dial(ctx context.Context, cfg LinkConfig) (*Link, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("robot bridge dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("robot bridge dial failed: %w", err)
	}

	l := &Link{
		cfg:      cfg,
		conn:     conn,
		logger:   log.For("robot"),
		pending:  make(map[string]chan protocol.ResultData),
		handlers: make(map[string]map[string]func(json.RawMessage)),
		closed:   make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	go l.readPump()

	l.logger.Info("connected to robot bridge", "url", cfg.URL)
	return l, nil
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		err = l.conn.Close()
		close(l.closed)
	})
	return err
}

// Done is closed when the link is no longer usable.
func (l *Link) Done() <-chan struct{} {
	return l.closed
}

func (l *Link) readPump() {
	defer l.Close()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.closed:
			default:
				l.logger.Warn("robot bridge connection lost", "error", err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			l.logger.Debug("dropping malformed bridge message", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeResult:
			var res protocol.ResultData
			if err := msg.ParseData(&res); err != nil {
				res = protocol.ResultData{Error: err.Error()}
			}
			l.mu.Lock()
			ch, ok := l.pending[msg.ID]
			delete(l.pending, msg.ID)
			l.mu.Unlock()
			if ok {
				ch <- res
			}

		case protocol.TypeEvent:
			var ev protocol.EventData
			if err := msg.ParseData(&ev); err != nil {
				continue
			}
			l.dispatch(ev)

		case protocol.TypePing:
			if pong, err := protocol.NewMessage(protocol.TypePong, msg.ID, nil); err == nil {
				_ = l.write(pong)
			}
		}
	}
}

func (l *Link) dispatch(ev protocol.EventData) {
	l.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(l.handlers[ev.Name]))
	for _, fn := range l.handlers[ev.Name] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev.Value)
	}
}

func (l *Link) write(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// roundTrip sends msg and waits for the result carrying its ID.
func (l *Link) roundTrip(ctx context.Context, method string, msg *protocol.Message) (json.RawMessage, error) {
	select {
	case <-l.closed:
		return nil, ErrClosed
	default:
	}

	ch := make(chan protocol.ResultData, 1)
	l.mu.Lock()
	l.pending[msg.ID] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, msg.ID)
		l.mu.Unlock()
	}()

	if err := l.write(msg); err != nil {
		return nil, fmt.Errorf("robot: send %s: %w", method, err)
	}

	timer := time.NewTimer(l.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Error != "" {
			return nil, &CallError{Method: method, Message: res.Error, Code: res.Code}
		}
		return res.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("robot: %s timed out after %v", method, l.cfg.CallTimeout)
	case <-l.closed:
		return nil, ErrClosed
	}
}

// Call invokes a bridge method and decodes its value into out (may be nil).
func (l *Link) Call(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	msg, err := protocol.NewCall(uuid.NewString(), method, args...)
	if err != nil {
		return err
	}
	raw, err := l.roundTrip(ctx, method, msg)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("robot: decode %s result: %w", method, err)
	}
	return nil
}

// Subscribe registers fn for event. The bridge is asked to forward the event
// when the first handler registers and to stop when the last one leaves.
// Handlers run on the read goroutine and must not call back into the Link.
func (l *Link) Subscribe(ctx context.Context, event string, fn func(json.RawMessage)) (unsubscribe func() error, err error) {
	id := uuid.NewString()

	l.mu.Lock()
	first := len(l.handlers[event]) == 0
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[string]func(json.RawMessage))
	}
	l.handlers[event][id] = fn
	l.mu.Unlock()

	if first {
		if err := l.sendSubscribe(ctx, true, event); err != nil {
			l.removeHandler(event, id)
			return nil, err
		}
	}

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			if last := l.removeHandler(event, id); last {
				err = l.sendSubscribe(context.Background(), false, event)
			}
		})
		return err
	}, nil
}

func (l *Link) removeHandler(event, id string) (last bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers[event], id)
	if len(l.handlers[event]) == 0 {
		delete(l.handlers, event)
		return true
	}
	return false
}

func (l *Link) sendSubscribe(ctx context.Context, subscribe bool, event string) error {
	msg, err := protocol.NewSubscribe(uuid.NewString(), subscribe, event)
	if err != nil {
		return err
	}
	_, err = l.roundTrip(ctx, string(msg.Type)+" "+event, msg)
	return err
}

// --- Speech ---

// SetLanguage sets the speech engine language (e.g. "Spanish").
func (l *Link) SetLanguage(ctx context.Context, language string) error {
	return l.Call(ctx, nil, methodSetLanguage, language)
}

// Say speaks text and returns when the utterance is complete.
func (l *Link) Say(ctx context.Context, text string, mode SpeechMode) error {
	if mode == ModeAnimated {
		return l.Call(ctx, nil, methodAnimatedSay, text, map[string]string{"bodyLanguageMode": "random"})
	}
	return l.Call(ctx, nil, methodSay, text)
}

// --- Posture ---

// GoToPosture moves to a predefined posture.
func (l *Link) GoToPosture(ctx context.Context, name string, speed float64) error {
	return l.Call(ctx, nil, methodGoToPosture, name, speed)
}

// --- Indicators ---

func (l *Link) On(ctx context.Context, group string) error {
	return l.Call(ctx, nil, methodLedsOn, group)
}

func (l *Link) Off(ctx context.Context, group string) error {
	return l.Call(ctx, nil, methodLedsOff, group)
}

func (l *Link) SetIntensity(ctx context.Context, group string, intensity float64) error {
	return l.Call(ctx, nil, methodLedsIntensity, group, intensity)
}

// Animate runs a named LED animation for duration.
func (l *Link) Animate(ctx context.Context, name string, duration time.Duration) error {
	return l.Call(ctx, nil, "ALLeds."+name, duration.Seconds())
}

// --- Autonomy ---

func (l *Link) SetLifeState(ctx context.Context, state string) error {
	return l.Call(ctx, nil, methodLifeState, state)
}

// --- Sensors ---

// ReadFlag reads a memory key as a boolean. Tactile sensors report 0.0 or
// 1.0, so any non-zero number is true.
func (l *Link) ReadFlag(ctx context.Context, key string) (bool, error) {
	var raw json.RawMessage
	if err := l.Call(ctx, &raw, methodGetData, key); err != nil {
		return false, err
	}
	return decodeFlag(raw)
}

func decodeFlag(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("robot: cannot read %s as a flag", string(raw))
}

// ReadString reads a memory key as a string.
func (l *Link) ReadString(ctx context.Context, key string) (string, error) {
	var s string
	if err := l.Call(ctx, &s, methodGetData, key); err != nil {
		return "", err
	}
	return s, nil
}

// --- Word recognition ---

// StartSpotting loads vocabulary with word spotting enabled and forwards
// recognitions to handler until stop is called.
func (l *Link) StartSpotting(ctx context.Context, vocabulary []string, handler func(WordRecognition)) (func() error, error) {
	if err := l.Call(ctx, nil, methodASRPause, true); err != nil {
		return nil, err
	}
	if err := l.Call(ctx, nil, methodASRVocabulary, vocabulary, true); err != nil {
		return nil, err
	}

	unsubscribe, err := l.Subscribe(ctx, eventWordRecognized, func(raw json.RawMessage) {
		if rec, ok := parseWordRecognized(raw); ok {
			handler(rec)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := l.Call(ctx, nil, methodASRPause, false); err != nil {
		_ = unsubscribe()
		return nil, err
	}

	return func() error {
		err := unsubscribe()
		if perr := l.Call(context.Background(), nil, methodASRPause, true); err == nil {
			err = perr
		}
		return err
	}, nil
}

// parseWordRecognized decodes the [word, confidence, ...] payload, keeping
// the best candidate. Word spotting wraps the phrase in "<...>" markers.
func parseWordRecognized(raw json.RawMessage) (WordRecognition, bool) {
	var values []interface{}
	if err := json.Unmarshal(raw, &values); err != nil || len(values) < 2 {
		return WordRecognition{}, false
	}
	word, ok := values[0].(string)
	if !ok {
		return WordRecognition{}, false
	}
	conf, ok := values[1].(float64)
	if !ok {
		return WordRecognition{}, false
	}
	word = strings.TrimSpace(strings.ReplaceAll(word, "<...>", ""))
	if word == "" {
		return WordRecognition{}, false
	}
	return WordRecognition{Word: strings.ToLower(word), Confidence: conf}, true
}

// --- Recording ---

// StartRecording opens the microphones and records into target on the robot.
// A bridge timeout code surfaces as ErrMicrophoneTimeout.
//
// If the call fails without a reply from the bridge (ctx deadline, call
// timeout) the bridge may still have opened the microphones, so they are
// closed again before returning.
func (l *Link) StartRecording(ctx context.Context, target string) error {
	err := l.Call(ctx, nil, methodStartRecord, target)
	if err == nil {
		l.mu.Lock()
		l.target = target
		l.mu.Unlock()
		return nil
	}

	var callErr *CallError
	if !errors.As(err, &callErr) && !errors.Is(err, ErrClosed) {
		l.abortRecording()
	}
	return err
}

func (l *Link) abortRecording() {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := l.Call(ctx, nil, methodStopRecord); err != nil {
		l.logger.Warn("close microphones after failed start", "error", err)
	}
}

// StopRecording stops the microphones and fetches the recorded clip.
func (l *Link) StopRecording(ctx context.Context) (Clip, error) {
	l.mu.Lock()
	target := l.target
	l.target = ""
	l.mu.Unlock()
	if target == "" {
		return Clip{}, ErrNotRecording
	}

	if err := l.Call(ctx, nil, methodStopRecord); err != nil {
		return Clip{}, err
	}

	var encoded string
	if err := l.Call(ctx, &encoded, methodFetchFile, target); err != nil {
		return Clip{}, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Clip{}, fmt.Errorf("robot: decode clip: %w", err)
	}
	return Clip{Target: target, Format: "wav", SampleRate: l.cfg.SampleRate, Data: data}, nil
}
