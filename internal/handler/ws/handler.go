package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/pocketcoach/backend/internal/service/chat"
)

// Handler serves chat turns over a websocket connection, one exchange per
// inbound frame.
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New creates the websocket chat handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened for session=%s", sessionID)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed for session=%s: %v", sessionID, err)
			}
			return
		}

		var inbound inboundMessage
		if err := json.Unmarshal(payload, &inbound); err != nil {
			h.send(conn, outgoingMessage{Type: "error", Error: "invalid message payload"})
			continue
		}

		switch inbound.Type {
		case "chat":
			h.handleChatFrame(r, conn, sessionID, inbound)
		case "ping":
			h.send(conn, outgoingMessage{Type: "pong", SessionID: sessionID})
		default:
			h.send(conn, outgoingMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *Handler) handleChatFrame(r *http.Request, conn *websocket.Conn, sessionID string, inbound inboundMessage) {
	sid := inbound.SessionID
	if sid == "" {
		sid = sessionID
	}

	result, err := h.chatSvc.Chat(r.Context(), sid, inbound.Message)
	if err != nil {
		h.send(conn, outgoingMessage{
			Type:      "error",
			SessionID: sid,
			Error:     err.Error(),
		})
		return
	}

	h.send(conn, outgoingMessage{
		Type:      "reply",
		SessionID: result.SessionID,
		Data: map[string]interface{}{
			"llm_response": result.Reply,
			"sentiment":    result.Sentiment,
		},
	})
}

func (h *Handler) send(conn *websocket.Conn, msg outgoingMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}
