package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError переводит доменные ошибки в HTTP-статусы. Неизвестные — 500 без подробностей.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.ErrorCode(err)
	var status int
	switch {
	case errors.Is(err, model.ErrInvalidConversationTarget),
		errors.Is(err, model.ErrInvalidGroupSpec),
		errors.Is(err, model.ErrInvalidMessage):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotMember),
		errors.Is(err, model.ErrForbidden),
		errors.Is(err, model.ErrNotGroupAdmin):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrUnknownMessage),
		errors.Is(err, model.ErrGroupNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, model.ErrTransportUnavailable):
		status = http.StatusServiceUnavailable
	default:
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: code})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// requireSelf проверяет, что {me} из пути совпадает с пользователем из токена.
func requireSelf(w http.ResponseWriter, r *http.Request, me string) bool {
	if me == "" || me != middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// sameOrEmpty: поле тела, называющее пользователя, должно быть пустым или совпадать с токеном.
func sameOrEmpty(r *http.Request, id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || id == middleware.GetUserID(r.Context())
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	n, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
