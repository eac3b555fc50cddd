package handler

import (
	"errors"
	"net/http"
	"strings"

	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

type topicRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type directoryRequest struct {
	Name     string  `json:"name" validate:"required,max=200"`
	ParentID *string `json:"parentId" validate:"omitempty,uuid"`
}

type reportRequest struct {
	TargetType string `json:"targetType" validate:"required,oneof=event post process user"`
	TargetID   string `json:"targetId" validate:"required,uuid"`
	Reason     string `json:"reason" validate:"required,max=2000"`
}

type resolveRequest struct {
	Status string `json:"status" validate:"required,oneof=resolved dismissed"`
}

func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store.Topics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t := &model.Topic{Name: strings.TrimSpace(req.Name), Description: req.Description, CreatedBy: actor(r).UserID}
	if err := h.store.CreateTopic(r.Context(), t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.fail(w, r, apperr.Conflict("A topic with that name already exists"))
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.store.Topic(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if t.CreatedBy != a.UserID && !a.Admin {
		h.fail(w, r, apperr.Forbidden("Only the creator can delete this topic"))
		return
	}
	if err := h.store.DeleteTopic(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListDirectories(w http.ResponseWriter, r *http.Request) {
	dirs, err := h.store.Directories(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

func (h *Handler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req directoryRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if req.ParentID != nil {
		if err := h.ownDirectory(r.Context(), a, *req.ParentID); err != nil {
			h.fail(w, r, apperr.BadRequest("parentId does not exist"))
			return
		}
	}
	d := &model.Directory{OwnerID: a.UserID, Name: strings.TrimSpace(req.Name), ParentID: req.ParentID}
	if err := h.store.CreateDirectory(r.Context(), d); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) UpdateDirectory(w http.ResponseWriter, r *http.Request) {
	d, err := h.ownedDirectory(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req directoryRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ParentID != nil {
		if err := h.ownDirectory(r.Context(), actor(r), *req.ParentID); err != nil {
			h.fail(w, r, apperr.BadRequest("parentId does not exist"))
			return
		}
	}
	d.Name = strings.TrimSpace(req.Name)
	d.ParentID = req.ParentID
	if err := h.store.UpdateDirectory(r.Context(), d); err != nil {
		if errors.Is(err, store.ErrInvalid) {
			h.fail(w, r, apperr.BadRequest("A directory cannot be moved inside itself"))
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) DeleteDirectory(w http.ResponseWriter, r *http.Request) {
	d, err := h.ownedDirectory(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteDirectory(r.Context(), d.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ownedDirectory(r *http.Request) (*model.Directory, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	d, err := h.store.Directory(r.Context(), id)
	if err != nil {
		return nil, err
	}
	a := actor(r)
	if d.OwnerID != a.UserID && !a.Admin {
		return nil, apperr.NotFound("Not found")
	}
	return d, nil
}

func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rep := &model.Report{
		ReporterID: actor(r).UserID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Reason:     strings.TrimSpace(req.Reason),
	}
	if err := h.store.CreateReport(r.Context(), rep); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	if !actor(r).Admin {
		h.fail(w, r, apperr.Forbidden("Admin access required"))
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", model.ReportOpen, model.ReportResolved, model.ReportDismissed:
	default:
		h.fail(w, r, apperr.BadRequest("status must be one of: open, resolved, dismissed"))
		return
	}
	limit, err := queryInt(r, "limit", 50, 200)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.store.Reports(r.Context(), status, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
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
	var req resolveRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.store.ResolveReport(r.Context(), id, req.Status, a.UserID, h.now().UTC())
	if errors.Is(err, store.ErrConflict) {
		h.fail(w, r, apperr.Conflict("Report is already closed"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.notifier.NotifyAll(r.Context(), []string{rep.ReporterID}, a.UserID, model.Notification{
		Kind:      model.NotifyReportResolved,
		Title:     "Your report was " + rep.Status,
		Data:      map[string]any{"reportId": rep.ID, "targetType": rep.TargetType, "targetId": rep.TargetID},
		DedupeKey: "report_resolved:" + rep.ID,
	})
	writeJSON(w, http.StatusOK, rep)
}

