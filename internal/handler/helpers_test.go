package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"process-calendar-api/internal/apperr"
	"process-calendar-api/internal/store"
)

func TestCheckMessages(t *testing.T) {
	h := &Handler{validate: newValidator()}
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  any
		want string
	}{
		{"required", &registerRequest{Password: "longenough", Name: "x"}, "email is required"},
		{"email", &registerRequest{Email: "x", Password: "longenough", Name: "x"}, "email must be a valid email address"},
		{"min string", &registerRequest{Email: "a@b.co", Password: "short", Name: "x"}, "password must be at least 8 characters"},
		{"gtfield", &createEventRequest{Title: "t", StartTime: start, EndTime: start}, "endTime must be after startTime"},
		{"oneof", &createEventRequest{Title: "t", StartTime: start, EndTime: start.Add(time.Hour), Status: "soon"},
			"status must be one of: scheduled, in_progress, completed, cancelled"},
		{"nested", &createEventRequest{Title: "t", StartTime: start, EndTime: start.Add(time.Hour),
			Participants: []participantRequest{{UserID: "bad"}}}, "participants[0].userId must be a valid id"},
		{"max string", &createEventRequest{Title: strings.Repeat("x", 201), StartTime: start, EndTime: start.Add(time.Hour)},
			"title must be at most 200 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.check(tt.req)
			require.Error(t, err)
			var e *apperr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, http.StatusBadRequest, e.Status)
			assert.Equal(t, tt.want, e.Detail)
		})
	}

	assert.NoError(t, h.check(&registerRequest{Email: "a@b.co", Password: "longenough", Name: "x"}))
}

func TestToAppErr(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("event: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{store.ErrBadReference, http.StatusBadRequest},
		{store.ErrInvalid, http.StatusBadRequest},
		{apperr.Forbidden("nope"), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, toAppErr(tt.err).Status, "%v", tt.err)
	}
	// internal details never reach the body
	assert.Equal(t, "Internal server error", toAppErr(errors.New("pq: secret")).Detail)
}

func TestDecodeErrors(t *testing.T) {
	h := &Handler{validate: newValidator()}

	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"empty", "", http.StatusBadRequest, "Request body is required"},
		{"malformed", "{", http.StatusBadRequest, "Malformed JSON body"},
		{"too large", `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, "Request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var req registerRequest
			err := h.decode(httptest.NewRecorder(), r, &req)
			e := toAppErr(err)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.detail, e.Detail)
		})
	}
}

func TestQueryTime(t *testing.T) {
	r := httptest.NewRequest("GET", "/?from=2026-03-01&to=2026-03-02T10:00:00Z&bad=yesterday", nil)

	from, err := queryTime(r, "from")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *from)

	to, err := queryTime(r, "to")
	require.NoError(t, err)
	assert.Equal(t, 10, to.Hour())

	missing, err := queryTime(r, "missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	_, err = queryTime(r, "bad")
	assert.Error(t, err)
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
		err   bool
	}{
		{"", 20, false},
		{"limit=5", 5, false},
		{"limit=5000", 100, false},
		{"limit=0", 0, true},
		{"limit=-3", 0, true},
		{"limit=ten", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/?"+tt.query, nil)
		got, err := queryInt(r, "limit", 20, 100)
		if tt.err {
			assert.Error(t, err, tt.query)
			continue
		}
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func TestNewPageCursor(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	type item struct {
		at time.Time
		id string
	}
	items := []item{{base.Add(time.Hour), "c"}, {base, "b"}, {base, "a"}}
	cursor := func(i item) (time.Time, string) { return i.at, i.id }

	full := newPage(items, 3, cursor)
	require.NotNil(t, full.NextBefore)
	require.NotNil(t, full.NextBeforeID)
	assert.Equal(t, base, *full.NextBefore)
	assert.Equal(t, "a", *full.NextBeforeID)

	short := newPage(items, 10, cursor)
	assert.Nil(t, short.NextBefore)
	assert.Nil(t, short.NextBeforeID)

	empty := newPage[item](nil, 10, cursor)
	assert.NotNil(t, empty.Items)
}

func TestPageParams(t *testing.T) {
	id := uuid.NewString()
	pg, err := page(httptest.NewRequest("GET", "/?before=2026-03-01T10:00:00.123456Z&beforeId="+id+"&limit=5", nil))
	require.NoError(t, err)
	assert.Equal(t, id, pg.BeforeID)
	assert.Equal(t, 123456000, pg.Before.Nanosecond())
	assert.Equal(t, 5, pg.Limit)

	_, err = page(httptest.NewRequest("GET", "/?beforeId=nope", nil))
	assert.Equal(t, http.StatusBadRequest, toAppErr(err).Status)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 10))
	assert.Equal(t, "abcd…", excerpt("abcdefgh", 5))
	// counts runes, not bytes
	assert.Equal(t, "héll…", excerpt("héllo wörld", 5))
}
