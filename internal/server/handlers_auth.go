package server

import (
	"errors"
	"net/http"

	"github.com/plumelit/plume/internal/auth"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// HandleSignup handles POST /auth/signup. New accounts start with zero
// credits; an admin grants the first balance.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	user, err := h.db.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		h.writeServiceError(w, r, model.E(model.KindConflict, "username or email already taken"))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("user signed up", "user_id", user.ID, "username", user.Username)
	writeJSON(w, r, http.StatusCreated, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// HandleLogin handles POST /auth/login. Unknown usernames burn a dummy
// hash verification so response timing does not reveal which accounts
// exist.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.KindUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	valid, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.KindUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}
