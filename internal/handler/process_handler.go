package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"process-calendar-api/internal/access"
	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

type subStepRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

type stepRequest struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	DueDate     *time.Time       `json:"dueDate"`
	SubSteps    []subStepRequest `json:"subSteps" validate:"max=100,dive"`
}

type createProcessRequest struct {
	Title       string        `json:"title" validate:"required,max=200"`
	Description string        `json:"description" validate:"max=5000"`
	IsTemplate  bool          `json:"isTemplate"`
	DirectoryID *string       `json:"directoryId" validate:"omitempty,uuid"`
	Steps       []stepRequest `json:"steps" validate:"max=200,dive"`
}

type updateProcessRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	IsTemplate  *bool   `json:"isTemplate"`
	DirectoryID *string `json:"directoryId" validate:"omitempty,uuid|len=0"`
}

type instantiateRequest struct {
	Title   string  `json:"title" validate:"max=200"`
	EventID *string `json:"eventId" validate:"omitempty,uuid"`
}

type updateStepRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	DueDate     *time.Time `json:"dueDate"`
	ClearDue    bool       `json:"clearDueDate"`
	Completed   *bool      `json:"completed"`
}

type updateSubStepRequest struct {
	Title     *string `json:"title" validate:"omitempty,min=1,max=200"`
	Completed *bool   `json:"completed"`
}

type reorderRequest struct {
	StepIDs []string `json:"stepIds" validate:"required,min=1,dive,uuid"`
}

func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ProcessFilter{DirectoryID: q.Get("directoryId")}
	if v := q.Get("templates"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, apperr.BadRequest("templates must be true or false"))
			return
		}
		f.Templates = &b
	}
	var err error
	if f.Limit, err = queryInt(r, "limit", 200, 500); err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.store.ProcessesForUser(r.Context(), actor(r).UserID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	var req createProcessRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if req.DirectoryID != nil {
		if err := h.ownDirectory(r.Context(), a, *req.DirectoryID); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	p := &model.Process{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		OwnerID:     a.UserID,
		IsTemplate:  req.IsTemplate,
		DirectoryID: req.DirectoryID,
	}
	for _, st := range req.Steps {
		step := model.Step{Title: st.Title, Description: st.Description, DueDate: st.DueDate}
		for _, sub := range st.SubSteps {
			step.SubSteps = append(step.SubSteps, model.SubStep{Title: sub.Title})
		}
		p.Steps = append(p.Steps, step)
	}
	if err := h.store.CreateProcess(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.store.Process(r.Context(), p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProcess(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if !access.CanEditProcess(a, p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can edit this process"))
		return
	}
	var req updateProcessRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Title != nil {
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.IsTemplate != nil {
		if *req.IsTemplate && p.TemplateID != nil {
			h.fail(w, r, apperr.BadRequest("A process created from a template cannot become a template"))
			return
		}
		p.IsTemplate = *req.IsTemplate
	}
	if req.DirectoryID != nil {
		if *req.DirectoryID == "" {
			p.DirectoryID = nil
		} else {
			if err := h.ownDirectory(r.Context(), a, *req.DirectoryID); err != nil {
				h.fail(w, r, err)
				return
			}
			p.DirectoryID = req.DirectoryID
		}
	}
	if err := h.store.UpdateProcess(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !access.CanEditProcess(actor(r), p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can delete this process"))
		return
	}
	if err := h.store.DeleteProcess(r.Context(), p.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Instantiate copies a template into a new process owned by the caller,
// optionally attaching it to an event the caller can edit.
func (h *Handler) Instantiate(w http.ResponseWriter, r *http.Request) {
	tpl, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !tpl.IsTemplate {
		h.fail(w, r, apperr.BadRequest("Process is not a template"))
		return
	}
	var req instantiateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	ctx := r.Context()
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
		if !access.CanEditEvent(a, e) {
			h.fail(w, r, apperr.Forbidden("Not allowed to edit this event"))
			return
		}
	}
	p, err := h.store.Instantiate(ctx, tpl.ID, a.UserID, strings.TrimSpace(req.Title), req.EventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.store.Process(ctx, p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) AddStep(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !access.CanEditProcess(actor(r), p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can change steps"))
		return
	}
	var req stepRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	st := &model.Step{ProcessID: p.ID, Title: req.Title, Description: req.Description, DueDate: req.DueDate}
	for _, sub := range req.SubSteps {
		st.SubSteps = append(st.SubSteps, model.SubStep{Title: sub.Title})
	}
	if err := h.store.AddStep(r.Context(), st); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) ReorderSteps(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !access.CanEditProcess(actor(r), p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can change steps"))
		return
	}
	var req reorderRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.ReorderSteps(r.Context(), p.ID, req.StepIDs); err != nil {
		if errors.Is(err, store.ErrInvalid) {
			h.fail(w, r, apperr.BadRequest("stepIds must list every step of the process once"))
			return
		}
		h.fail(w, r, err)
		return
	}
	updated, err := h.store.Process(r.Context(), p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpdateStep needs owner rights to edit content; ticking completion is
// also open to editors of an attached event.
func (h *Handler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	st, err := h.store.Step(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, events, err := h.processFor(ctx, actor(r), st.ProcessID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateStepRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	editsContent := req.Title != nil || req.Description != nil || req.DueDate != nil || req.ClearDue
	if editsContent && !access.CanEditProcess(a, p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can change steps"))
		return
	}
	if req.Completed != nil && !access.CanCompleteSteps(a, p, events) {
		h.fail(w, r, apperr.Forbidden("Not allowed to complete steps"))
		return
	}

	wasDone := st.Completed
	if req.Title != nil {
		st.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		st.Description = *req.Description
	}
	if req.DueDate != nil {
		st.DueDate = req.DueDate
	}
	if req.ClearDue {
		st.DueDate = nil
	}
	if req.Completed != nil {
		st.Completed = *req.Completed
		if !st.Completed {
			st.CompletedAt, st.CompletedBy = nil, nil
		}
	}
	if err := h.store.UpdateStep(ctx, st, a.UserID, h.now().UTC()); err != nil {
		h.fail(w, r, err)
		return
	}

	if st.Completed && !wasDone && st.CompletedAt != nil {
		h.notifier.NotifyAll(ctx, []string{p.OwnerID}, a.UserID, model.Notification{
			Kind:      model.NotifyStepCompleted,
			Title:     fmt.Sprintf("%q was completed", st.Title),
			Body:      p.Title,
			Data:      map[string]any{"processId": p.ID, "stepId": st.ID},
			DedupeKey: fmt.Sprintf("step_completed:%s:%d", st.ID, st.CompletedAt.UnixNano()),
		})
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) DeleteStep(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.stepForEdit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteStep(r.Context(), st.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddSubStep(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.stepForEdit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req subStepRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sub := &model.SubStep{StepID: st.ID, Title: strings.TrimSpace(req.Title)}
	if err := h.store.AddSubStep(r.Context(), sub); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) UpdateSubStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	sub, err := h.store.SubStep(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.store.Step(ctx, sub.StepID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	p, events, err := h.processFor(ctx, a, st.ProcessID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateSubStepRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Title != nil && !access.CanEditProcess(a, p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can change steps"))
		return
	}
	if req.Completed != nil && !access.CanCompleteSteps(a, p, events) {
		h.fail(w, r, apperr.Forbidden("Not allowed to complete steps"))
		return
	}
	if req.Title != nil {
		sub.Title = strings.TrimSpace(*req.Title)
	}
	if req.Completed != nil {
		sub.Completed = *req.Completed
		if !sub.Completed {
			sub.CompletedAt = nil
		}
	}
	if err := h.store.UpdateSubStep(ctx, sub, h.now().UTC()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) DeleteSubStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	sub, err := h.store.SubStep(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.store.Step(ctx, sub.StepID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	p, _, err := h.processFor(ctx, a, st.ProcessID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !access.CanEditProcess(a, p) {
		h.fail(w, r, apperr.Forbidden("Only the owner can change steps"))
		return
	}
	if err := h.store.DeleteSubStep(ctx, sub.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// viewableProcess loads the process named by the id path variable with
// the events it is attached to. Hidden processes read as not found.
func (h *Handler) viewableProcess(r *http.Request) (*model.Process, []*model.Event, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, nil, err
	}
	return h.processFor(r.Context(), actor(r), id)
}

func (h *Handler) processFor(ctx context.Context, a access.Actor, id string) (*model.Process, []*model.Event, error) {
	p, err := h.store.Process(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := h.store.EventsForProcess(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !access.CanViewProcess(a, p, events) {
		return nil, nil, apperr.NotFound("Not found")
	}
	return p, events, nil
}

func (h *Handler) stepForEdit(r *http.Request) (*model.Step, *model.Process, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, nil, err
	}
	ctx := r.Context()
	st, err := h.store.Step(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a := actor(r)
	p, _, err := h.processFor(ctx, a, st.ProcessID)
	if err != nil {
		return nil, nil, err
	}
	if !access.CanEditProcess(a, p) {
		return nil, nil, apperr.Forbidden("Only the owner can change steps")
	}
	return st, p, nil
}

func (h *Handler) ownDirectory(ctx context.Context, a access.Actor, id string) error {
	d, err := h.store.Directory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.BadRequest("directoryId does not exist")
	}
	if err != nil {
		return err
	}
	if d.OwnerID != a.UserID && !a.Admin {
		return apperr.BadRequest("directoryId does not exist")
	}
	return nil
}
