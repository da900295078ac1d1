package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
)

// Send: POST /api/chat/send — тот же путь, что /app/chat.send по WebSocket.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var cmd model.SendCommand
	if !decodeJSON(w, r, &cmd) {
		return
	}
	if !sameOrEmpty(r, cmd.SenderID) {
		writeError(w, http.StatusForbidden, "senderId does not match token")
		return
	}
	cmd.SenderID = middleware.GetUserID(r.Context())
	m, err := h.svc.Send(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Ack: POST /api/chat/messages/{id}/ack — получатель подтверждает доставку.
func (h *ChatHandler) Ack(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	m, err := h.svc.Acknowledge(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
