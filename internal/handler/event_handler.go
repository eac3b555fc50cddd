package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"process-calendar-api/internal/access"
	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/calendar"
	"process-calendar-api/internal/jsonutil"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/store"
)

type participantRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Role   string `json:"role" validate:"omitempty,oneof=owner editor viewer"`
}

type createEventRequest struct {
	Title        string               `json:"title" validate:"required,max=200"`
	Description  string               `json:"description" validate:"max=5000"`
	Location     string               `json:"location" validate:"max=500"`
	StartTime    time.Time            `json:"startTime" validate:"required"`
	EndTime      time.Time            `json:"endTime" validate:"required,gtfield=StartTime"`
	Status       string               `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	ProcessID    *string              `json:"processId" validate:"omitempty,uuid"`
	TopicID      *string              `json:"topicId" validate:"omitempty,uuid"`
	Metadata     map[string]any       `json:"metadata"`
	Participants []participantRequest `json:"participants" validate:"max=200,dive"`
}

// updateEventRequest is a partial update; absent fields keep their value.
// An empty string for processId or topicId detaches it.
type updateEventRequest struct {
	Title       *string        `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string        `json:"description" validate:"omitempty,max=5000"`
	Location    *string        `json:"location" validate:"omitempty,max=500"`
	StartTime   *time.Time     `json:"startTime"`
	EndTime     *time.Time     `json:"endTime"`
	Status      *string        `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	ProcessID   *string        `json:"processId" validate:"omitempty,uuid|len=0"`
	TopicID     *string        `json:"topicId" validate:"omitempty,uuid|len=0"`
	Metadata    map[string]any `json:"metadata"`
}

type rsvpRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted declined invited"`
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.store.EventsForUser(r.Context(), actor(r).UserID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func eventFilter(r *http.Request) (store.EventFilter, error) {
	var f store.EventFilter
	var err error
	if f.From, err = queryTime(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		return f, err
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return f, apperr.BadRequest("to must be after from")
	}
	q := r.URL.Query()
	f.Status = q.Get("status")
	if f.Status != "" && !model.ValidEventStatus(f.Status) {
		return f, apperr.BadRequest("status is invalid")
	}
	f.TopicID = q.Get("topicId")
	f.ProcessID = q.Get("processId")
	if f.Limit, err = queryInt(r, "limit", 500, 1000); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	ctx := r.Context()

	if req.ProcessID != nil {
		if err := h.attachable(ctx, a, *req.ProcessID); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	e := &model.Event{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Location:    req.Location,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Status:      req.Status,
		CreatorID:   a.UserID,
		ProcessID:   req.ProcessID,
		TopicID:     req.TopicID,
		Metadata:    normalizeObject(req.Metadata),
	}
	for _, p := range req.Participants {
		e.Participants = append(e.Participants, model.Participant{UserID: p.UserID, Role: p.Role})
	}
	if err := h.store.CreateEvent(ctx, e); err != nil {
		h.fail(w, r, err)
		return
	}

	h.notifier.NotifyAll(ctx, participantIDs(e), a.UserID, model.Notification{
		Kind:      model.NotifyInvited,
		Title:     "You were invited to " + e.Title,
		Body:      e.StartTime.Format(time.RFC1123),
		Data:      map[string]any{"eventId": e.ID},
		DedupeKey: "invited:" + e.ID,
	})
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if !access.CanEditEvent(a, e) {
		h.fail(w, r, apperr.Forbidden("Not allowed to edit this event"))
		return
	}
	var req updateEventRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx := r.Context()
	wasStatus := e.Status

	if req.Title != nil {
		e.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Location != nil {
		e.Location = *req.Location
	}
	if req.StartTime != nil {
		e.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		e.EndTime = req.EndTime.UTC()
	}
	if req.Status != nil {
		e.Status = *req.Status
	}
	if req.ProcessID != nil {
		if *req.ProcessID == "" {
			e.ProcessID = nil
		} else {
			if err := h.attachable(ctx, a, *req.ProcessID); err != nil {
				h.fail(w, r, err)
				return
			}
			e.ProcessID = req.ProcessID
		}
	}
	if req.TopicID != nil {
		if *req.TopicID == "" {
			e.TopicID = nil
		} else {
			e.TopicID = req.TopicID
		}
	}
	if req.Metadata != nil {
		e.Metadata = normalizeObject(req.Metadata)
	}
	if !e.EndTime.After(e.StartTime) {
		h.fail(w, r, apperr.BadRequest("endTime must be after startTime"))
		return
	}

	if err := h.store.UpdateEvent(ctx, e); err != nil {
		h.fail(w, r, err)
		return
	}

	note := model.Notification{
		Kind:      model.NotifyEventUpdated,
		Title:     e.Title + " was updated",
		Data:      map[string]any{"eventId": e.ID},
		DedupeKey: fmt.Sprintf("event_updated:%s:%d", e.ID, e.UpdatedAt.UnixNano()),
	}
	if e.Status == model.EventCancelled && wasStatus != model.EventCancelled {
		note = cancelledNote(e)
	}
	h.notifier.NotifyAll(ctx, participantIDs(e), a.UserID, note)
	writeJSON(w, http.StatusOK, e)
}

// DeleteEvent cancels the event, keeping it for history. With
// permanent=true the row and its posts are removed.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if !access.CanDeleteEvent(a, e) {
		h.fail(w, r, apperr.Forbidden("Only the creator can delete this event"))
		return
	}
	ctx := r.Context()
	if r.URL.Query().Get("permanent") == "true" {
		err = h.store.DeleteEvent(ctx, e.ID)
	} else {
		err = h.store.CancelEvent(ctx, e.ID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if e.Status != model.EventCancelled {
		h.notifier.NotifyAll(ctx, participantIDs(e), a.UserID, cancelledNote(e))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if !access.CanEditEvent(a, e) {
		h.fail(w, r, apperr.Forbidden("Not allowed to edit this event"))
		return
	}
	var req participantRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = model.ParticipantViewer
	}
	if req.UserID == e.CreatorID {
		h.fail(w, r, apperr.BadRequest("The creator's role cannot be changed"))
		return
	}
	_, existed := e.Participant(req.UserID)

	p, err := h.store.AddParticipant(r.Context(), e.ID, req.UserID, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !existed {
		h.notifier.NotifyAll(r.Context(), []string{req.UserID}, a.UserID, model.Notification{
			Kind:      model.NotifyInvited,
			Title:     "You were invited to " + e.Title,
			Body:      e.StartTime.Format(time.RFC1123),
			Data:      map[string]any{"eventId": e.ID},
			// a user removed and invited again hears about it again
			DedupeKey: fmt.Sprintf("invited:%s:%d", e.ID, p.JoinedAt.UnixNano()),
		})
	}
	writeJSON(w, http.StatusCreated, p)
}

// RemoveParticipant lets editors remove anyone but the creator, and lets
// any participant leave.
func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if userID != a.UserID && !access.CanEditEvent(a, e) {
		h.fail(w, r, apperr.Forbidden("Not allowed to edit this event"))
		return
	}
	if userID == e.CreatorID {
		h.fail(w, r, apperr.BadRequest("The creator cannot be removed"))
		return
	}
	if err := h.store.RemoveParticipant(r.Context(), e.ID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RSVP(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	if _, ok := e.Participant(a.UserID); !ok {
		h.fail(w, r, apperr.Forbidden("Only participants can respond"))
		return
	}
	var req rsvpRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.SetRSVP(r.Context(), e.ID, a.UserID, req.Status); err != nil {
		h.fail(w, r, err)
		return
	}
	p, _ := e.Participant(a.UserID)
	p.Status = req.Status
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) EventPosts(w http.ResponseWriter, r *http.Request) {
	e, err := h.viewableEvent(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pg, err := page(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	posts, err := h.store.EventPosts(r.Context(), e.ID, pg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(posts, pg.Limit, postCursor))
}

// ExportEvents writes the caller's events as an iCalendar feed.
func (h *Handler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.store.EventsForUser(r.Context(), actor(r).UserID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	if err := calendar.Encode(w, "Events", events, h.now()); err != nil {
		// headers are gone by now
		h.log.WithError(err).Error("encode calendar")
	}
}

func (h *Handler) viewableEvent(r *http.Request) (*model.Event, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	e, err := h.store.Event(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !access.CanViewEvent(actor(r), e) {
		return nil, apperr.NotFound("Not found")
	}
	return e, nil
}

// attachable checks the caller may attach process id to an event.
func (h *Handler) attachable(ctx context.Context, a access.Actor, id string) error {
	p, err := h.store.Process(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.BadRequest("processId does not exist")
		}
		return err
	}
	if !access.CanEditProcess(a, p) {
		return apperr.Forbidden("Not allowed to attach this process")
	}
	return nil
}

func participantIDs(e *model.Event) []string {
	ids := make([]string, 0, len(e.Participants))
	for _, p := range e.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func cancelledNote(e *model.Event) model.Notification {
	return model.Notification{
		Kind:      model.NotifyEventCancelled,
		Title:     e.Title + " was cancelled",
		Data:      map[string]any{"eventId": e.ID},
		DedupeKey: "event_cancelled:" + e.ID,
	}
}

func normalizeObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return jsonutil.NormalizeKeys(m).(map[string]any)
}
