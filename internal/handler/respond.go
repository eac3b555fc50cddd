package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"process-calendar-api/internal/access"
	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/logging"
	"process-calendar-api/internal/middleware"
	"process-calendar-api/internal/store"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Detail    string `json:"detail"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail, RequestID: logging.RequestID(r.Context())})
}

// fail renders err. Store sentinels map to their HTTP status; anything
// unrecognised is a logged 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := toAppErr(err)
	if e.Status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	h.detail(w, r, e.Status, e.Detail)
}

func toAppErr(err error) *apperr.Error {
	var e *apperr.Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Not found")
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict("Already exists")
	case errors.Is(err, store.ErrBadReference):
		return apperr.BadRequest("Referenced resource does not exist")
	case errors.Is(err, store.ErrInvalid):
		return apperr.BadRequest("Invalid value")
	}
	return apperr.Internal(err)
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.BadRequest("Request body is required")
		case errors.As(err, &tooBig):
			return apperr.New(http.StatusRequestEntityTooLarge, "Request body too large")
		}
		return apperr.BadRequest("Malformed JSON body")
	}
	return h.check(v)
}

func actor(r *http.Request) access.Actor {
	return access.Actor{UserID: middleware.UserID(r.Context()), Admin: middleware.IsAdmin(r.Context())}
}

// pathID reads a uuid path variable. Malformed ids cannot exist, so they
// read as not found.
func pathID(r *http.Request, name string) (string, error) {
	v := mux.Vars(r)[name]
	if _, err := uuid.Parse(v); err != nil {
		return "", apperr.NotFound("Not found")
	}
	return v, nil
}

// queryTime accepts RFC 3339 or a bare date, which reads as midnight UTC.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	return nil, apperr.BadRequest(name + " must be an RFC 3339 timestamp or YYYY-MM-DD date")
}

func queryInt(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, apperr.BadRequest(name + " must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func page(r *http.Request) (store.Page, error) {
	before, err := queryTime(r, "before")
	if err != nil {
		return store.Page{}, err
	}
	limit, err := queryInt(r, "limit", 20, store.MaxFeedLimit)
	if err != nil {
		return store.Page{}, err
	}
	pg := store.Page{Before: before, Limit: limit}
	if v := r.URL.Query().Get("beforeId"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			return store.Page{}, apperr.BadRequest("beforeId must be a valid id")
		}
		pg.BeforeID = v
	}
	return pg, nil
}

// pageOf wraps a list with the cursor for the next page. The cursor is
// the last item's creation time and id when the page came back full; ties
// on creation time are broken by id.
type pageOf[T any] struct {
	Items        []T        `json:"items"`
	NextBefore   *time.Time `json:"nextBefore"`
	NextBeforeID *string    `json:"nextBeforeId"`
}

func newPage[T any](items []T, limit int, cursor func(T) (time.Time, string)) pageOf[T] {
	if items == nil {
		items = []T{}
	}
	p := pageOf[T]{Items: items}
	if limit > 0 && len(items) == limit {
		t, id := cursor(items[len(items)-1])
		p.NextBefore, p.NextBeforeID = &t, &id
	}
	return p
}
