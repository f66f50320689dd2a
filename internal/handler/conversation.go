package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/service"
)

type ConversationHandler struct {
	svc *service.Service
}

func NewConversationHandler(svc *service.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type GetOrCreateConversationRequest struct {
	UserID string `json:"user_id"`
}

// GetOrCreate returns the direct conversation with the given user, creating
// it when it does not exist yet. Safe to call concurrently from both sides.
func (h *ConversationHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	var req GetOrCreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	conv, err := h.svc.GetOrCreateConversation(r.Context(), handle, req.UserID)
	if err != nil {
		writeServiceError(w, "conversation.GetOrCreate", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	convs, err := h.svc.GetConversations(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "conversation.List", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	conv, err := h.svc.CreateGroupConversation(r.Context(), handle, req.Name, req.MemberIDs)
	if err != nil {
		writeServiceError(w, "conversation.CreateGroup", err)
		return
	}
	if conv == nil {
		// Validation miss (no name or fewer than three members).
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type RenameGroupRequest struct {
	Name string `json:"name"`
}

func (h *ConversationHandler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	var req RenameGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	ok, err := h.svc.RenameGroup(r.Context(), handle, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeServiceError(w, "conversation.RenameGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (h *ConversationHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	ok, err := h.svc.DeleteGroup(r.Context(), handle, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "conversation.DeleteGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (h *ConversationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.MarkAsRead(r.Context(), handle, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "conversation.MarkAsRead", err)
		return
	}
	writeOK(w)
}

func (h *ConversationHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.MarkSeen(r.Context(), handle, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "conversation.MarkSeen", err)
		return
	}
	writeOK(w)
}

type SetTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *ConversationHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req SetTypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.SetTyping(r.Context(), handle, chi.URLParam(r, "id"), req.IsTyping); err != nil {
		writeServiceError(w, "conversation.SetTyping", err)
		return
	}
	writeOK(w)
}

// BackfillForUser re-derives the lookup key for the caller's own legacy
// direct conversations.
func (h *ConversationHandler) BackfillForUser(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	patched, err := h.svc.BackfillConversationsForUser(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "conversation.BackfillForUser", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"patched": patched})
}
