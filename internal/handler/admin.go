package handler

import (
	"net/http"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/service"
)

// AdminHandler exposes the maintenance mutations. Every operation is gated by
// the service's admin allow-list, not here.
type AdminHandler struct {
	svc *service.Service
}

func NewAdminHandler(svc *service.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// Cleanup rewrites rows of the core tables into the current shape.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	report, err := h.svc.CleanupCoreTables(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "admin.Cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Clear wipes messages and conversations. Profiles survive.
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	report, err := h.svc.ClearTables(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "admin.Clear", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// BackfillConversationKeys derives the lookup key for every legacy direct
// conversation that still misses one.
func (h *AdminHandler) BackfillConversationKeys(w http.ResponseWriter, r *http.Request) {
	handle := middleware.GetUserHandle(r.Context())
	patched, err := h.svc.BackfillConversationIndexes(r.Context(), handle)
	if err != nil {
		writeServiceError(w, "admin.BackfillConversationKeys", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"patched": patched})
}
