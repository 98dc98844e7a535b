package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"

	chatservice "github.com/pocketcoach/backend/internal/service/chat"
	"github.com/pocketcoach/backend/pkg/utils"
)

// Handler streams chat replies via Server-Sent Events.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates a new stream handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// StreamResponse represents a streaming response chunk.
type StreamResponse struct {
	Event     string  `json:"event"`
	Content   string  `json:"content,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Label     string  `json:"label,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Finished  bool    `json:"finished,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// HandleStreamRequest runs one chat turn and forwards reply deltas to the
// client as they arrive.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
	})

	result, err := h.chatSvc.ChatStream(ctx, sessionID, userMessage, func(chunk string) error {
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   chunk,
		})
		return nil
	})
	if err != nil {
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event: "error",
			Error: fmt.Sprintf("reply generation failed: %v", err),
		})
		return err
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: result.SessionID,
		Content:   result.Reply,
	})

	if result.Sentiment != nil {
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "sentiment",
			SessionID: result.SessionID,
			Label:     result.Sentiment.Label,
			Score:     result.Sentiment.Score,
		})
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: result.SessionID,
		Finished:  true,
	})

	log.Printf("[stream] completed response for session=%s", result.SessionID)
	return nil
}
