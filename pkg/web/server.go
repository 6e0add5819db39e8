// Package web serves the live session dashboard.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-nao/internal/log"
	"github.com/teslashibe/go-nao/pkg/hub"
	"github.com/teslashibe/go-nao/pkg/metrics"
	"github.com/teslashibe/go-nao/pkg/turn"
)

const maxConversation = 100

// Frame types sent on /ws/status.
const (
	FrameStatus   = "status"
	FrameExchange = "exchange"
	FrameFailure  = "failure"
)

// Status is the dashboard's view of the session.
type Status struct {
	Session     string    `json:"session"`
	State       string    `json:"state"`
	LastTrigger string    `json:"last_trigger,omitempty"`
	LastFailure string    `json:"last_failure,omitempty"`
	Turns       int       `json:"turns"`
	Failures    int       `json:"failures"`
	Clients     int       `json:"clients"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Entry is one line of the conversation log.
type Entry struct {
	Time    time.Time `json:"time"`
	Role    string    `json:"role"` // user, robot
	Message string    `json:"message"`
}

// FailureEvent is broadcast when a failure is observed.
type FailureEvent struct {
	Kind  string    `json:"kind"`
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// Server is the dashboard. It observes a turn.Controller and pushes
// updates to websocket clients.
type Server struct {
	app    *fiber.App
	addr   string
	hub    *hub.Hub
	logger *slog.Logger

	mu           sync.RWMutex
	status       Status
	conversation []Entry
}

var _ turn.Observer = (*Server)(nil)

// NewServer creates a dashboard listening on addr. A nil m disables /metrics.
func NewServer(addr string, m *metrics.Metrics) *Server {
	s := &Server{
		addr:         addr,
		hub:          hub.New("status"),
		logger:       log.For("web"),
		status:       Status{State: turn.Idle.String(), UpdatedAt: time.Now()},
		conversation: make([]Entry, 0, maxConversation),
	}

	app := fiber.New(fiber.Config{
		AppName:               "NAO Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hub and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync runs Start in a goroutine, logging its error.
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.logger.Error("dashboard stopped", "error", err)
		}
	}()
}

// OnTransition records the new state and broadcasts it.
func (s *Server) OnTransition(t turn.Transition) {
	s.mu.Lock()
	s.status.Session = t.Session
	s.status.State = t.To.String()
	if t.Trigger != nil {
		s.status.LastTrigger = t.Trigger.Kind.String()
	}
	s.status.UpdatedAt = t.At
	st := s.status
	s.mu.Unlock()

	s.publish(FrameStatus, st)
}

// OnExchange appends the question and answer to the conversation log.
func (s *Server) OnExchange(e turn.Exchange) {
	s.mu.Lock()
	s.status.Turns++
	s.appendLocked(Entry{Time: e.At, Role: "user", Message: e.Question})
	s.appendLocked(Entry{Time: e.At, Role: "robot", Message: e.Answer})
	s.mu.Unlock()

	s.publish(FrameExchange, e)
}

// OnFailure counts the failure and broadcasts it.
func (s *Server) OnFailure(kind turn.FailureKind, err error) {
	ev := FailureEvent{Kind: kind.String(), Time: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}

	s.mu.Lock()
	s.status.Failures++
	s.status.LastFailure = ev.Kind
	s.mu.Unlock()

	s.publish(FrameFailure, ev)
}

// Status returns a snapshot of the session status.
func (s *Server) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	st.Clients = s.hub.ClientCount()
	return st
}

// Conversation returns a copy of the conversation log.
func (s *Server) Conversation() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.conversation))
	copy(out, s.conversation)
	return out
}

func (s *Server) appendLocked(e Entry) {
	s.conversation = append(s.conversation, e)
	if len(s.conversation) > maxConversation {
		s.conversation = s.conversation[1:]
	}
}

func (s *Server) publish(typ string, v any) {
	if err := s.hub.BroadcastJSON(typ, v); err != nil {
		s.logger.Warn("encode frame", "type", typ, "error", err)
	}
}
