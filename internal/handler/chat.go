package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/service"
)

type ChatHandler struct {
	svc *service.ChatService
}

func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// History: GET /api/chat/history/{me}/{other} или /api/chat/history/{me}?groupId=; before, limit — пагинация.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	me := chi.URLParam(r, "me")
	if !requireSelf(w, r, me) {
		return
	}
	q := model.HistoryQuery{
		BeforeID: queryInt64(r, "before"),
		Limit:    queryInt(r, "limit", 0),
	}
	msgs, err := h.svc.History(r.Context(), me, chi.URLParam(r, "other"), r.URL.Query().Get("groupId"), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Chats: GET /api/chat/chats/{me} — список диалогов, новые сверху.
func (h *ChatHandler) Chats(w http.ResponseWriter, r *http.Request) {
	me := chi.URLParam(r, "me")
	if !requireSelf(w, r, me) {
		return
	}
	chats, err := h.svc.Chats(r.Context(), me)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if chats == nil {
		chats = []model.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

type seenResponse struct {
	Updated    int     `json:"updated"`
	MessageIDs []int64 `json:"messageIds"`
}

// Seen: PUT /api/chat/seen/{me}/{other} или /api/chat/seen/{me}?groupId=.
func (h *ChatHandler) Seen(w http.ResponseWriter, r *http.Request) {
	me := chi.URLParam(r, "me")
	if !requireSelf(w, r, me) {
		return
	}
	changed, err := h.svc.MarkSeen(r.Context(), me, chi.URLParam(r, "other"), r.URL.Query().Get("groupId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ids := make([]int64, 0, len(changed))
	for _, m := range changed {
		ids = append(ids, m.ID)
	}
	writeJSON(w, http.StatusOK, seenResponse{Updated: len(ids), MessageIDs: ids})
}

type presenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Presence: GET /api/presence/{userId}.
func (h *ChatHandler) Presence(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "userId")
	if uid == "" || middleware.GetUserID(r.Context()) == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{UserID: uid, Online: h.svc.Online(uid)})
}
