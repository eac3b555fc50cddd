package handler

import (
	"errors"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"process-calendar-api/internal/access"
	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/logging"
	"process-calendar-api/internal/media"
	"process-calendar-api/internal/model"
)

// multipart parts above this are spooled to temp files by net/http
const multipartMemory = 8 << 20

// UploadMedia takes a multipart form with a file field and an optional
// postId the caller authored.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	max := h.media.Disk().MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, max+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, r, apperr.New(http.StatusRequestEntityTooLarge, "File too large"))
			return
		}
		h.fail(w, r, apperr.BadRequest("Expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	a := actor(r)
	ctx := r.Context()

	var postID *string
	if v := r.FormValue("postId"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			h.fail(w, r, apperr.BadRequest("postId must be a valid id"))
			return
		}
		p, err := h.store.Post(ctx, v)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !access.CanEditPost(a, p) {
			h.fail(w, r, apperr.Forbidden("Only the author can attach media"))
			return
		}
		postID = &v
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, apperr.BadRequest("file is required"))
		return
	}
	defer f.Close()

	m, err := h.media.Upload(ctx, a.UserID, hdr.Filename, postID, f)
	if errors.Is(err, media.ErrTooLarge) {
		h.fail(w, r, apperr.New(http.StatusRequestEntityTooLarge, "File too large"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	m, err := h.viewableMedia(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) MediaContent(w http.ResponseWriter, r *http.Request) {
	m, err := h.viewableMedia(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if m.Status != model.MediaReady {
		h.fail(w, r, apperr.Conflict("Media is not ready"))
		return
	}
	f, err := h.media.Disk().Open(m.StoragePath)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": m.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, m.Filename, m.CreatedAt, f)
}

func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	m, err := h.viewableMedia(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if m.OwnerID != a.UserID && !a.Admin {
		h.fail(w, r, apperr.Forbidden("Only the owner can delete this file"))
		return
	}
	if err := h.store.DeleteMedia(r.Context(), m.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.media.Disk().Remove(m.StoragePath); err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("media_id", m.ID).Warn("remove media file")
	}
	w.WriteHeader(http.StatusNoContent)
}

// viewableMedia: the uploader, an admin, or anyone who can see the post
// the file is attached to.
func (h *Handler) viewableMedia(r *http.Request) (*model.Media, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	ctx := r.Context()
	m, err := h.store.Media(ctx, id)
	if err != nil {
		return nil, err
	}
	a := actor(r)
	if m.OwnerID == a.UserID || a.Admin {
		return m, nil
	}
	if m.PostID != nil {
		p, err := h.store.Post(ctx, *m.PostID)
		if err != nil {
			return nil, err
		}
		ok, err := h.canViewPost(ctx, a, p)
		if err != nil {
			return nil, err
		}
		if ok {
			return m, nil
		}
	}
	return nil, apperr.NotFound("Not found")
}
