package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/media"
)

type MediaHandler struct {
	store         *media.Store
	maxUploadSize int64
}

func NewMediaHandler(store *media.Store, maxUploadSize int64) *MediaHandler {
	return &MediaHandler{store: store, maxUploadSize: maxUploadSize}
}

// Upload: POST /api/media/upload, multipart/form-data с полем "file".
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	up, err := h.store.Save(r.Context(), header.Filename, header.Size, file)
	switch {
	case errors.Is(err, media.ErrBlockedType), errors.Is(err, media.ErrContentMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		logger.Errorf("media upload: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	writeJSON(w, http.StatusCreated, up)
}

// Serve: GET /api/media/{filename}; query name= — оригинальное имя для Content-Disposition.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	rc, ct, err := h.store.Open(filename)
	if errors.Is(err, media.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		logger.Errorf("media open %s: %v", filename, err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filepath.Base(name)))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debugf("media serve %s: %v", filename, err)
	}
}
