package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/ragline/ragline/internal/api/middlewares"
	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/models"
	"github.com/ragline/ragline/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type createSessionRequest struct {
	ContextIDs []string `json:"context_ids"`
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	session, err := h.chat.CreateSession(r.Context(), userID, req.ContextIDs)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrContextNotReady) {
			status = http.StatusPreconditionFailed
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// ownedSession loads the session from the URL and enforces ownership.
func (h *ChatHandler) ownedSession(w http.ResponseWriter, r *http.Request) *models.ChatSession {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil
	}
	session, err := h.chat.GetSession(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return nil
	}
	if session == nil || session.UserID != userID {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil
	}
	return session
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask answers a question in the session, returning the assistant message
// with its citations.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	session := h.ownedSession(w, r)
	if session == nil {
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	msg, err := h.chat.Ask(r.Context(), session, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrContextNotReady):
			http.Error(w, err.Error(), http.StatusPreconditionFailed)
		case errors.Is(err, core.ErrGenerationFailed), errors.Is(err, core.ErrEmbeddingUnavailable):
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// History returns the session's messages oldest first.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	session := h.ownedSession(w, r)
	if session == nil {
		return
	}
	msgs, err := h.chat.History(r.Context(), session.ID, 0)
	if err != nil {
		http.Error(w, "history failed", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
