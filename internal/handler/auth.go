package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/logger"
)

// AuthHandler выдаёт токены в dev-режиме. В production токены выпускает внешний сервис.
type AuthHandler struct {
	verifier *auth.Verifier
}

func NewAuthHandler(verifier *auth.Verifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

type verifyRequest struct {
	UserID string `json:"userId"`
}

type verifyResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Verify: POST /auth/verify {userId} -> {token}. Только при DEV_AUTH.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	token, exp, err := h.verifier.Issue(req.UserID)
	if err != nil {
		logger.Errorf("auth issue user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Token: token, UserID: req.UserID, ExpiresAt: exp})
}
