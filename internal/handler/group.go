package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/service"
)

type GroupHandler struct {
	svc *service.ChatService
}

func NewGroupHandler(svc *service.ChatService) *GroupHandler {
	return &GroupHandler{svc: svc}
}

// Create: POST /api/groups/create {name, adminId, memberIds, groupIcon}. Админ — автор запроса.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !sameOrEmpty(r, req.AdminID) {
		writeError(w, http.StatusForbidden, "adminId does not match token")
		return
	}
	req.AdminID = middleware.GetUserID(r.Context())
	g, err := h.svc.CreateGroup(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// Members: GET /api/groups/{id}/members — только для участников.
func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.GroupMembers(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type leaveRequest struct {
	UserID string `json:"userId"`
}

// Leave: POST /api/groups/{id}/leave {userId}. Выйти можно только самому.
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if !sameOrEmpty(r, req.UserID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := h.svc.LeaveGroup(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type joinRequest struct {
	UserID string `json:"userId"`
}

// Join: POST /api/groups/{id}/join {userId} — админ принимает пользователя в группу.
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.svc.JoinGroup(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type addMembersRequest struct {
	MemberIDs []string `json:"memberIds"`
}

type addMembersResponse struct {
	Added []string `json:"added"`
}

// AddMembers: POST /api/groups/{id}/members {memberIds} — только админ.
func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req addMembersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	added, err := h.svc.AddMembers(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if added == nil {
		added = []string{}
	}
	writeJSON(w, http.StatusOK, addMembersResponse{Added: added})
}
