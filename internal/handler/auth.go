package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/mimitask/internal/auth"
)

type AuthHandler struct {
	tokens *auth.TokenIssuer
	logger *slog.Logger
}

func NewAuthHandler(tokens *auth.TokenIssuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: logger}
}

type credentialsResponse struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// Anonymous mints a new uid and a token for it.
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	uid := auth.NewUID()
	token, err := h.tokens.Issue(uid)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	h.logger.Info("anonymous sign in", "uid", uid)
	writeJSON(w, http.StatusCreated, credentialsResponse{UID: uid, Token: token})
}
