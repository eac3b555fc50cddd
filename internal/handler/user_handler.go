package handler

import (
	"net/http"
	"strings"
	"time"

	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/model"
)

type profileRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=100"`
	Bio       *string `json:"bio" validate:"omitempty,max=1000"`
	AvatarURL *string `json:"avatarUrl" validate:"omitempty,url,max=2048"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

type settingsRequest struct {
	Timezone           *string `json:"timezone" validate:"omitempty,max=64"`
	Theme              *string `json:"theme" validate:"omitempty,oneof=light dark system"`
	Language           *string `json:"language" validate:"omitempty,min=2,max=10"`
	EmailNotifications *bool   `json:"emailNotifications"`
	PushNotifications  *bool   `json:"pushNotifications"`
	ReminderMinutes    *int    `json:"reminderMinutes" validate:"omitempty,min=0,max=1440"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.UserByID(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.store.UserByID(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.Bio != nil {
		u.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		u.AvatarURL = *req.AvatarURL
	}
	if u.Name == "" {
		h.fail(w, r, apperr.BadRequest("name is required"))
		return
	}
	if err := h.store.UpdateProfile(r.Context(), u); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.store.UserByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20, 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	users, err := h.store.SearchUsers(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// SetRole is admin only. The new role shows up in the user's next access
// token.
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if !a.Admin {
		h.fail(w, r, apperr.Forbidden("Admin access required"))
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req roleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if id == a.UserID && req.Role != model.RoleAdmin {
		h.fail(w, r, apperr.BadRequest("Admins cannot demote themselves"))
		return
	}
	if err := h.store.SetRole(r.Context(), id, req.Role); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.store.UserByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Preferences(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil || *req.Timezone == "" {
			h.fail(w, r, apperr.BadRequest("timezone must be an IANA zone name"))
			return
		}
	}

	p, err := h.store.Preferences(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Timezone != nil {
		p.Timezone = *req.Timezone
	}
	if req.Theme != nil {
		p.Theme = *req.Theme
	}
	if req.Language != nil {
		p.Language = *req.Language
	}
	if req.EmailNotifications != nil {
		p.EmailNotifications = *req.EmailNotifications
	}
	if req.PushNotifications != nil {
		p.PushNotifications = *req.PushNotifications
	}
	if req.ReminderMinutes != nil {
		p.ReminderMinutes = *req.ReminderMinutes
	}
	if err := h.store.SavePreferences(r.Context(), &p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
