package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"process-calendar-api/internal/access"
	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/model"
)

type createPostRequest struct {
	EventID  *string  `json:"eventId" validate:"omitempty,uuid"`
	Content  string   `json:"content" validate:"required,max=10000"`
	MediaIDs []string `json:"mediaIds" validate:"max=20,dive,uuid"`
}

type updatePostRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

func postCursor(p *model.Post) (time.Time, string) { return p.CreatedAt, p.ID }

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	pg, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	posts, err := h.store.Feed(r.Context(), actor(r).UserID, pg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(posts, pg.Limit, postCursor))
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	ctx := r.Context()

	var event *model.Event
	if req.EventID != nil {
		e, err := h.store.Event(ctx, *req.EventID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !access.CanViewEvent(a, e) {
			h.fail(w, r, apperr.NotFound("Not found"))
			return
		}
		event = e
	}

	p := &model.Post{EventID: req.EventID, AuthorID: a.UserID, Content: strings.TrimSpace(req.Content)}
	if p.Content == "" {
		h.fail(w, r, apperr.BadRequest("content is required"))
		return
	}
	if err := h.store.CreatePost(ctx, p, req.MediaIDs); err != nil {
		h.fail(w, r, err)
		return
	}

	if event != nil {
		h.notifier.NotifyAll(ctx, participantIDs(event), a.UserID, model.Notification{
			Kind:      model.NotifyNewPost,
			Title:     "New post on " + event.Title,
			Body:      excerpt(p.Content, 140),
			Data:      map[string]any{"eventId": event.ID, "postId": p.ID},
			DedupeKey: "new_post:" + p.ID,
		})
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.viewablePost(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	p, err := h.viewablePost(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !access.CanEditPost(actor(r), p) {
		h.fail(w, r, apperr.Forbidden("Only the author can edit this post"))
		return
	}
	var req updatePostRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p.Content = strings.TrimSpace(req.Content)
	if err := h.store.UpdatePost(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	p, err := h.viewablePost(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !access.CanEditPost(actor(r), p) {
		h.fail(w, r, apperr.Forbidden("Only the author can delete this post"))
		return
	}
	if err := h.store.DeletePost(r.Context(), p.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) viewablePost(r *http.Request) (*model.Post, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	p, err := h.store.Post(r.Context(), id)
	if err != nil {
		return nil, err
	}
	ok, err := h.canViewPost(r.Context(), actor(r), p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("Not found")
	}
	return p, nil
}

// canViewPost: the author, an admin, or anyone who can see the post's event.
func (h *Handler) canViewPost(ctx context.Context, a access.Actor, p *model.Post) (bool, error) {
	if access.CanEditPost(a, p) {
		return true, nil
	}
	if p.EventID == nil {
		return false, nil
	}
	e, err := h.store.Event(ctx, *p.EventID)
	if err != nil {
		return false, err
	}
	return access.CanViewEvent(a, e), nil
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
