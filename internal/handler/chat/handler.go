package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/pocketcoach/backend/internal/model/chat"
	chatservice "github.com/pocketcoach/backend/internal/service/chat"
	"github.com/pocketcoach/backend/internal/service/session"
	"github.com/pocketcoach/backend/pkg/utils"
)

// Handler maps the conversation operations onto HTTP.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/chat", h.handleChat)
	r.Get("/chat/{sessionID}/history", h.handleHistory)
	r.Post("/chat/{sessionID}/reset", h.handleReset)
	r.Get("/first_question", h.handleFirstQuestion)
	r.Post("/classify", h.handleClassify)
}

type loginRequest struct {
	Username string `json:"username"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := h.chatSvc.Login(r.Context(), payload.Username)
	if err != nil {
		if errors.Is(err, chatservice.ErrUsernameRequired) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID   string               `json:"session_id"`
	LLMResponse string               `json:"llm_response"`
	Sentiment   *chatmodel.Sentiment `json:"sentiment,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chatSvc.Chat(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		SessionID:   result.SessionID,
		LLMResponse: result.Reply,
		Sentiment:   result.Sentiment,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	history, err := h.chatSvc.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"history":    history,
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.Reset(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"detail": "Session reset. Start a new chat by POST /chat with no session_id.",
	})
}

func (h *Handler) handleFirstQuestion(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"greeting": h.chatSvc.FirstQuestion()})
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := strings.TrimSpace(payload.Message)
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "empty message is not allowed")
		return
	}

	results := h.chatSvc.Classify(r.Context(), text)
	entries := make([]chatmodel.Sentiment, 0, len(results))
	for _, result := range results {
		entries = append(entries, chatmodel.Sentiment{Label: string(result.Label), Score: result.Score})
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"message": text,
		"results": entries,
	})
}

func respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatservice.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatservice.ErrModelTimeout):
		utils.RespondError(w, http.StatusGatewayTimeout, "model timed out, please try again later")
	case errors.Is(err, chatservice.ErrModelFailure):
		utils.RespondError(w, http.StatusInternalServerError, "internal model error, please try again later")
	case errors.Is(err, session.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
