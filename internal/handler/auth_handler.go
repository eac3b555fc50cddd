package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/logging"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int         `json:"expiresIn"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
	}
	if err := h.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// dup email, but don't reveal that
			h.fail(w, r, apperr.Conflict("Registration failed"))
			return
		}
		h.fail(w, r, err)
		return
	}

	h.issue(w, r, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.store.UserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		h.fail(w, r, apperr.Unauthorized("Invalid credentials"))
		return
	}

	h.issue(w, r, http.StatusOK, u)
}

// Refresh rotates the refresh token. Presenting a token that was already
// rotated means it leaked, so every session of that user is revoked.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	now := h.now()

	rt, err := h.store.RefreshTokenByHash(ctx, auth.HashRefreshToken(req.RefreshToken))
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, apperr.Unauthorized("Invalid refresh token"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rt.Revoked {
		h.revokeAll(r, rt.UserID)
		h.fail(w, r, apperr.Unauthorized("Invalid refresh token"))
		return
	}
	if !rt.Usable(now) {
		h.fail(w, r, apperr.Unauthorized("Refresh token expired"))
		return
	}

	u, err := h.store.UserByID(ctx, rt.UserID)
	if err != nil {
		h.fail(w, r, apperr.Unauthorized("Invalid refresh token"))
		return
	}

	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.RotateRefreshToken(ctx, rt.ID, u.ID, hash, now.Add(h.refreshTTL)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// lost a race with another rotation of the same token
			h.revokeAll(r, u.ID)
			h.fail(w, r, apperr.Unauthorized("Invalid refresh token"))
			return
		}
		h.fail(w, r, err)
		return
	}

	access, err := h.issuer.Make(u.ID, u.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		User:         u,
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.issuer.TTL().Seconds()),
	})
}

// Logout revokes the presented refresh token. Unknown tokens are not an
// error.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.RevokeRefreshToken(r.Context(), auth.HashRefreshToken(req.RefreshToken)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, status int, u *model.User) {
	access, err := h.issuer.Make(u.ID, u.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.CreateRefreshToken(r.Context(), u.ID, hash, h.now().Add(h.refreshTTL)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, tokenResponse{
		User:         u,
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.issuer.TTL().Seconds()),
	})
}

func (h *Handler) revokeAll(r *http.Request, userID string) {
	log := logging.FromContext(r.Context()).WithField("user_id", userID)
	log.Warn("refresh token reuse detected, revoking all sessions")
	if err := h.store.RevokeAllRefreshTokens(r.Context(), userID); err != nil {
		log.WithError(err).Error("revoke refresh tokens")
	}
}
