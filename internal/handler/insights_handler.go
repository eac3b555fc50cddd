package handler

import (
	"errors"
	"net/http"
	"time"

	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/insights"
)

const defaultSummaryRange = 30 * 24 * time.Hour

// InsightsSummary covers [from, to), by default the last 30 days.
func (h *Handler) InsightsSummary(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	from, to, err := timeRange(r, now.Add(-defaultSummaryRange), now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.reports.Summary(r.Context(), actor(r).UserID, from, to, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) InsightsProgress(w http.ResponseWriter, r *http.Request) {
	list, err := h.reports.ProgressForUser(r.Context(), actor(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ProcessProgress(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	prog, err := h.reports.Progress(r.Context(), p.ID)
	if errors.Is(err, insights.ErrNotFound) {
		h.fail(w, r, apperr.NotFound("Not found"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

// ProcessBurnup defaults to the span from the process's creation to now.
func (h *Handler) ProcessBurnup(w http.ResponseWriter, r *http.Request) {
	p, _, err := h.viewableProcess(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.now().UTC()
	from, to, err := timeRange(r, p.CreatedAt.UTC(), now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if to.Sub(from) > insights.MaxBurnupDays*24*time.Hour {
		from = to.Add(-insights.MaxBurnupDays * 24 * time.Hour)
	}
	points, err := h.reports.Burnup(r.Context(), p.ID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processId": p.ID, "points": points})
}

func timeRange(r *http.Request, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	from, to := defFrom, defTo
	f, err := queryTime(r, "from")
	if err != nil {
		return from, to, err
	}
	t, err := queryTime(r, "to")
	if err != nil {
		return from, to, err
	}
	if f != nil {
		from = f.UTC()
	}
	if t != nil {
		to = t.UTC()
	}
	if to.Before(from) {
		return from, to, apperr.BadRequest("to must not be before from")
	}
	return from, to, nil
}
