package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-nao/pkg/hub"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleConversation(c *fiber.Ctx) error {
	return c.JSON(s.Conversation())
}

// handleStatusWS sends the current status, then every update.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	initial, err := hub.Encode(FrameStatus, s.Status())
	if err != nil {
		s.logger.Warn("encode status", "error", err)
		c.Close()
		return
	}
	hub.NewClient(s.hub, c, initial).Run()
}
