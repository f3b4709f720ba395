package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/middleware/validation"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine     TurnHandler
	maxContext int
}

func NewWebSocketHandler(engine TurnHandler, maxContext int) *WebSocketHandler {
	return &WebSocketHandler{
		engine:     engine,
		maxContext: maxContext,
	}
}

type wsMessage struct {
	Type string `json:"type"`
	validation.ChatRequest
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "question" {
			continue
		}

		if err := validation.ValidateChat(&msg.ChatRequest); err != nil {
			if werr := h.sendError(c, err.Error()); werr != nil {
				break
			}
			continue
		}

		if err := h.streamResponse(c, msg.ChatRequest); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			if werr := h.sendError(c, "Failed to process question"); werr != nil {
				break
			}
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, req validation.ChatRequest) error {
	if err := h.sendChunk(c, "status", "processing"); err != nil {
		return err
	}

	q := models.NewQuestion(req.Text, req.Language, req.Context, req.SessionID, h.maxContext)
	resp, err := h.engine.Handle(context.Background(), q)
	if err != nil {
		return err
	}

	for _, chunk := range splitIntoChunks(resp.Answer) {
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, resp)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, resp *models.SystemResponse) error {
	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"sources":    resp.Sources,
		"confidence": resp.Confidence,
		"action":     resp.Action,
		"metadata":   resp.Metadata,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoChunks cuts text after whitespace and CJK punctuation. The
// chunks concatenate back to text.
func splitIntoChunks(text string) []string {
	var chunks []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if isBreak(r) {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

func isBreak(r rune) bool {
	switch r {
	case ' ', '\n', '，', '。', '！', '？', '、', '；', '：':
		return true
	}
	return false
}
