package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/service"
)

type UserHandler struct {
	svc *service.Service
}

func NewUserHandler(svc *service.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

type SyncUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image"`
}

// Sync creates the profile on first call and patches it afterwards.
func (h *UserHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	user, err := h.svc.SyncUser(r.Context(), handle, req.Name, req.Email, req.Image)
	if err != nil {
		writeServiceError(w, "user.Sync", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	user, err := h.svc.GetCurrentUser(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "user.Me", err)
		return
	}
	// Not synced yet: the client is expected to call sync first.
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	users, err := h.svc.GetUsers(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "user.GetUsers", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.Heartbeat(r.Context(), handle); err != nil {
		writeServiceError(w, "user.Heartbeat", err)
		return
	}
	writeOK(w)
}

type SetOnlineRequest struct {
	Online bool `json:"online"`
}

func (h *UserHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req SetOnlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	if err := h.svc.SetOnlineStatus(r.Context(), handle, req.Online); err != nil {
		writeServiceError(w, "user.SetOnline", err)
		return
	}
	writeOK(w)
}

type UpdateAvatarRequest struct {
	BlobID string `json:"blob_id"`
}

// UpdateAvatar stores the uploaded blob handle as the profile image.
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	var req UpdateAvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.BlobID == "" {
		writeError(w, http.StatusBadRequest, "blob_id required")
		return
	}
	handle := middleware.GetUserHandle(r.Context())
	user, err := h.svc.UpdateProfileImage(r.Context(), handle, req.BlobID)
	if err != nil {
		writeServiceError(w, "user.UpdateAvatar", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
