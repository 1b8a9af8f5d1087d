package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/internal/query"
	"github.com/policyqa/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine AnswerEngine
}

func NewWebSocketHandler(engine AnswerEngine) *WebSocketHandler {
	return &WebSocketHandler{engine: engine}
}

// wsWriter serialises writes on one connection. Stage callbacks can fire
// from pipeline goroutines, sometimes after the answer was already sent.
type wsWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (w *wsWriter) write(msg map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.conn.WriteJSON(msg)
}

func (w *wsWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	w := &wsWriter{conn: c}
	defer func() {
		w.close()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			UserID  string `json:"user_id"`
			CaseID  string `json:"case_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "question" {
			continue
		}

		logger.Info("Processing WebSocket question", zap.String("question", msg.Content))

		if err := h.streamAnswer(w, msg.Content, msg.UserID, msg.CaseID); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				h.sendError(w, err.Error())
				continue
			}
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(w, "Failed to answer question")
		}
	}
}

func (h *WebSocketHandler) streamAnswer(w *wsWriter, question, userID, caseID string) error {
	h.sendChunk(w, "status", "Processing question...")

	response, err := h.engine.Answer(context.Background(), query.QueryRequest{
		Question: question,
		UserID:   userID,
		CaseID:   caseID,
		OnStage: func(stage string) {
			h.sendChunk(w, "stage", stage)
		},
	})
	if err != nil {
		return err
	}

	words := strings.Fields(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		if err := h.sendChunk(w, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(w, response)
}

func (h *WebSocketHandler) sendChunk(w *wsWriter, msgType, content string) error {
	return w.write(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(w *wsWriter, response *query.QueryResponse) error {
	return w.write(map[string]interface{}{
		"type":       "complete",
		"message_id": response.ID,
		"status":     response.Status,
		"citations":  response.Citations,
		"confidence": response.Confidence,
		"review_id":  response.ReviewID,
		"sources":    response.Sources,
		"failure":    response.Failure,
		"latency_ms": response.LatencyMS,
	})
}

func (h *WebSocketHandler) sendError(w *wsWriter, errorMsg string) {
	if err := w.write(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}
