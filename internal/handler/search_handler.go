package handler

import (
	"net/http"
	"strings"

	"process-calendar-api/internal/apperr"
)

var searchTypes = []string{"events", "processes", "posts", "users"}

// Search matches q against every type named in types, all of them by
// default.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.fail(w, r, apperr.BadRequest("q is required"))
		return
	}
	if len(q) > 200 {
		h.fail(w, r, apperr.BadRequest("q must be at most 200 characters"))
		return
	}
	types := make(map[string]bool)
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if !validSearchType(t) {
				h.fail(w, r, apperr.BadRequest("types must be a list of: "+strings.Join(searchTypes, ", ")))
				return
			}
			types[t] = true
		}
	} else {
		for _, t := range searchTypes {
			types[t] = true
		}
	}
	limit, err := queryInt(r, "limit", 20, 50)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a := actor(r)
	res, err := h.store.Search(r.Context(), a.UserID, a.Admin, q, types, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validSearchType(t string) bool {
	for _, s := range searchTypes {
		if s == t {
			return true
		}
	}
	return false
}
