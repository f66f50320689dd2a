package handler

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/fileserver"
)

type FileHandler struct {
	cfg     *config.Config
	fileSvc *fileserver.Service
}

func NewFileHandler(cfg *config.Config, fileSvc *fileserver.Service) *FileHandler {
	return &FileHandler{cfg: cfg, fileSvc: fileSvc}
}

// GenerateUploadURL is step one of the upload flow: the client asks where to
// send the bytes, then posts them there and stores the returned blob handle.
func (h *FileHandler) GenerateUploadURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"upload_url": "/api/files/upload"})
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	h.fileSvc.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	blobID := filepath.Base(chi.URLParam(r, "blobId"))
	h.fileSvc.Serve(w, r, blobID)
}
