package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/service"
)

type MessageHandler struct {
	svc *service.Service
}

func NewMessageHandler(svc *service.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type SendMessageRequest struct {
	Content    string            `json:"content"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
	ReplyTo    *string           `json:"reply_to,omitempty"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	msg, err := h.svc.SendMessage(r.Context(), handle, chi.URLParam(r, "id"), req.Content, req.Attachment, req.ReplyTo)
	if err != nil {
		writeServiceError(w, "message.Send", err)
		return
	}
	if msg == nil {
		// Nothing sent: gone conversation, outsider or empty content.
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	msgs, err := h.svc.GetMessages(r.Context(), handle, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "message.List", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	ok, err := h.svc.EditMessage(r.Context(), handle, chi.URLParam(r, "messageId"), req.Content)
	if err != nil {
		writeServiceError(w, "message.Edit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

// DeleteForMe hides the message from the caller only.
func (h *MessageHandler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.DeleteForMe(r.Context(), handle, chi.URLParam(r, "messageId")); err != nil {
		writeServiceError(w, "message.DeleteForMe", err)
		return
	}
	writeOK(w)
}

// DeleteForEveryone replaces the message with a placeholder for all
// participants. Sender only.
func (h *MessageHandler) DeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	ok, err := h.svc.DeleteForEveryone(r.Context(), handle, chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, "message.DeleteForEveryone", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

type ToggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	var req ToggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.ToggleReaction(r.Context(), handle, chi.URLParam(r, "messageId"), req.Emoji); err != nil {
		writeServiceError(w, "message.ToggleReaction", err)
		return
	}
	writeOK(w)
}

func (h *MessageHandler) TogglePin(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.TogglePin(r.Context(), handle, chi.URLParam(r, "messageId")); err != nil {
		writeServiceError(w, "message.TogglePin", err)
		return
	}
	writeOK(w)
}

func (h *MessageHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.ToggleStar(r.Context(), handle, chi.URLParam(r, "messageId")); err != nil {
		writeServiceError(w, "message.ToggleStar", err)
		return
	}
	writeOK(w)
}

type ForwardMessageRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (h *MessageHandler) Forward(w http.ResponseWriter, r *http.Request) {
	var req ForwardMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id required")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	msg, err := h.svc.ForwardMessage(r.Context(), handle, chi.URLParam(r, "messageId"), req.ConversationID)
	if err != nil {
		writeServiceError(w, "message.Forward", err)
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
