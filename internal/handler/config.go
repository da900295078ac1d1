package handler

import (
	"net/http"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/push"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту (без авторизации).
type ConfigHandler struct {
	cfg    *config.Config
	sender *push.Sender
}

func NewConfigHandler(cfg *config.Config, sender *push.Sender) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, sender: sender}
}

type clientConfig struct {
	MaxContentLength int   `json:"maxContentLength"`
	MaxUploadSize    int64 `json:"maxUploadSize"`
	HistoryPageSize  int   `json:"historyPageSize"`
}

// GetClientConfig: GET /api/config — лимиты, которые клиент проверяет до отправки.
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clientConfig{
		MaxContentLength: model.MaxContentLength,
		MaxUploadSize:    h.cfg.MaxUploadSize,
		HistoryPageSize:  h.cfg.HistoryDefaultLimit,
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil || !h.sender.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        true,
		"vapidPublicKey": h.sender.PublicKey(),
	})
}
