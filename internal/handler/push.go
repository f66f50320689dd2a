package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/service"
)

// PushHandler manages push subscriptions for the current user (session
// required) and exposes the public VAPID key.
type PushHandler struct {
	svc            *service.Service
	client         *push.Client
	vapidPublicKey string
}

func NewPushHandler(svc *service.Service, client *push.Client, vapidPublicKey string) *PushHandler {
	return &PushHandler{svc: svc, client: client, vapidPublicKey: vapidPublicKey}
}

// VAPIDPublicKey hands browsers the key for PushManager.subscribe().
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"vapid_public_key": h.vapidPublicKey})
}

type PushSubscribeRequest struct {
	Subscription push.PushSubscription `json:"subscription"`
}

// Subscribe stores the browser subscription on the push service.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req PushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	user, err := h.currentUser(w, r)
	if user == nil {
		if err != nil {
			writeServiceError(w, "push.Subscribe", err)
		}
		return
	}
	if err := h.client.Subscribe(r.Context(), user.ID, req.Subscription); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req PushUnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	user, err := h.currentUser(w, r)
	if user == nil {
		if err != nil {
			writeServiceError(w, "push.Unsubscribe", err)
		}
		return
	}
	if err := h.client.Unsubscribe(r.Context(), user.ID, req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// currentUser resolves the session handle to the synced profile. Writes the
// response itself when the profile is missing.
func (h *PushHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, error) {
	handle := middleware.GetUserHandle(r.Context())
	user, err := h.svc.GetCurrentUser(r.Context(), handle)
	if err != nil {
		return nil, err
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return nil, nil
	}
	return user, nil
}
